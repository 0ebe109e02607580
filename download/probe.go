package download

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"time"

	"github.com/containerd/errdefs"
	"github.com/containerd/log"
)

// Probe checks whether the REST mobile-sections endpoint and the
// visualeditor endpoint answer for the main page. Each is a single
// non-retried request; failure simply means the capability is off.
func (d *Downloader) Probe(ctx context.Context, restURL, veURL, mainPage string) (restAvailable, veAvailable bool) {
	restAvailable = d.probeOne(ctx, restURL+encodeArticleIDForURL(mainPage))
	veAvailable = d.probeOne(ctx, veURL+encodeArticleIDForURL(mainPage))
	log.G(ctx).WithFields(log.Fields{"rest": restAvailable, "visualeditor": veAvailable}).Info("capability probe finished")
	return restAvailable, veAvailable
}

func (d *Downloader) probeOne(ctx context.Context, rawURL string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return false
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		log.G(ctx).WithError(err).WithField("url", rawURL).Debug("probe request failed")
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// LocalParsoid is the local parser fallback: a Parsoid and an MCS
// subprocess started when neither remote rendering endpoint answers.
type LocalParsoid struct {
	ParsoidCommand []string
	MCSCommand     []string
	// MCSPort is where the local mobile-sections service listens.
	MCSPort int

	cmds []*exec.Cmd
}

// Start launches both services and waits for the MCS port to answer.
// It returns the local mobile-sections base URL.
func (l *LocalParsoid) Start(ctx context.Context) (string, error) {
	if len(l.ParsoidCommand) == 0 || len(l.MCSCommand) == 0 {
		return "", fmt.Errorf("%w: local parser fallback is not configured", errdefs.ErrUnavailable)
	}
	if l.MCSPort == 0 {
		l.MCSPort = 6927
	}
	for _, argv := range [][]string{l.ParsoidCommand, l.MCSCommand} {
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		if err := cmd.Start(); err != nil {
			l.Stop()
			return "", fmt.Errorf("starting local parser service %s: %w", argv[0], err)
		}
		l.cmds = append(l.cmds, cmd)
	}

	base := fmt.Sprintf("http://localhost:%d/", l.MCSPort)
	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(base + "_info")
		if err == nil {
			resp.Body.Close()
			log.G(ctx).WithField("base", base).Info("local parser services up")
			return base, nil
		}
		select {
		case <-ctx.Done():
			l.Stop()
			return "", ctx.Err()
		case <-time.After(time.Second):
		}
	}
	l.Stop()
	return "", fmt.Errorf("%w: local parser services did not come up", errdefs.ErrUnavailable)
}

// Stop terminates the subprocesses.
func (l *LocalParsoid) Stop() {
	for _, cmd := range l.cmds {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	l.cmds = nil
}
