package render

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/wikiscrape/wikiscrape/mwapi"
)

// categoryPageSize is the largest subcategory listing kept on one page.
const categoryPageSize = 200

// Shard is one pagination slice of an article.
type Shard struct {
	ID     string
	Detail mwapi.ArticleDetail
}

// PaginateCategory splits an article whose subcategory listing exceeds the
// page size into ceil(N/200) shards. Shard 0 keeps the original id; shard
// i>0 gets the `__i` suffix. Neighbouring shards reference each other by id
// only, never by pointer, so the shard graph stays acyclic in memory.
func PaginateCategory(articleID string, detail mwapi.ArticleDetail) []Shard {
	subs := detail.SubCategories
	if len(subs) <= categoryPageSize {
		return []Shard{{ID: articleID, Detail: detail}}
	}

	count := (len(subs) + categoryPageSize - 1) / categoryPageSize
	shards := make([]Shard, 0, count)
	for i := 0; i < count; i++ {
		id := articleID
		if i > 0 {
			id = fmt.Sprintf("%s__%d", articleID, i)
		}
		d := detail
		d.SubCategories = subs[i*categoryPageSize : min((i+1)*categoryPageSize, len(subs))]
		if i > 0 {
			d.PrevArticleID = shardID(articleID, i-1)
			// Only shard 0 keeps the full sub-page listing.
			d.Pages = nil
		}
		if i < count-1 {
			d.NextArticleID = shardID(articleID, i+1)
		}
		shards = append(shards, Shard{ID: id, Detail: d})
	}
	return shards
}

func shardID(articleID string, i int) string {
	if i == 0 {
		return articleID
	}
	return fmt.Sprintf("%s__%d", articleID, i)
}

// LetterGroup is an alphabetical bucket of a category listing.
type LetterGroup struct {
	Letter  string
	Members []mwapi.PageRef
}

// GroupByFirstLetter buckets refs by the upper-cased first character of
// their title (with any namespace prefix stripped), ordered by letter.
func GroupByFirstLetter(refs []mwapi.PageRef) []LetterGroup {
	if len(refs) == 0 {
		return nil
	}
	buckets := map[string][]mwapi.PageRef{}
	for _, ref := range refs {
		name := ref.Title
		if i := strings.Index(name, ":"); i >= 0 {
			name = name[i+1:]
		}
		letter := "#"
		for _, r := range name {
			letter = string(unicode.ToUpper(r))
			break
		}
		buckets[letter] = append(buckets[letter], ref)
	}
	letters := make([]string, 0, len(buckets))
	for letter := range buckets {
		letters = append(letters, letter)
	}
	sort.Strings(letters)
	groups := make([]LetterGroup, 0, len(letters))
	for _, letter := range letters {
		groups = append(groups, LetterGroup{Letter: letter, Members: buckets[letter]})
	}
	return groups
}
