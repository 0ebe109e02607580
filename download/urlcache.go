package download

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// urlPartCache compresses URLs that share a long host-and-path prefix down
// to a short `_<n>_` key plus the varying tail. With hundreds of thousands
// of media URLs on the same host this saves a significant amount of memory
// in the download queues.
type urlPartCache struct {
	mu       sync.Mutex
	byPrefix map[string]int
	prefixes []string
}

// SerializeURL returns the compressed form of u. URLs without a directory
// component are returned unchanged.
func (d *Downloader) SerializeURL(u string) string {
	path := u
	query := ""
	if i := strings.Index(u, "?"); i >= 0 {
		path, query = u[:i], u[i:]
	}
	slash := strings.LastIndex(path, "/")
	if slash < 0 {
		return u
	}
	prefix := path[:slash+1]
	rest := path[slash+1:] + query

	c := &d.urlParts
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byPrefix == nil {
		c.byPrefix = map[string]int{}
	}
	id, ok := c.byPrefix[prefix]
	if !ok {
		id = len(c.prefixes)
		c.byPrefix[prefix] = id
		c.prefixes = append(c.prefixes, prefix)
	}
	return fmt.Sprintf("_%d_%s", id, rest)
}

// DeserializeURL expands a compressed URL back to its full form. Anything
// not starting with the serialization marker passes through untouched.
func (d *Downloader) DeserializeURL(u string) string {
	if !strings.HasPrefix(u, "_") {
		return u
	}
	end := strings.Index(u[1:], "_")
	if end < 0 {
		return u
	}
	id, err := strconv.Atoi(u[1 : 1+end])
	if err != nil {
		return u
	}
	c := &d.urlParts
	c.mu.Lock()
	defer c.mu.Unlock()
	if id < 0 || id >= len(c.prefixes) {
		return u
	}
	return c.prefixes[id] + u[2+end:]
}
