// Package tokens estimates prompt token counts for cost accounting.
package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

// Counter estimates how many tokens a text costs upstream. The BPE
// tables load lazily on first use; if they cannot be loaded the counter
// degrades to whitespace-delimited word counting for the process
// lifetime. Counts feed savings percentages and penalty accounting, so
// a rough estimate beats an error.
type Counter struct {
	mu     sync.Mutex
	loaded bool
	enc    *tiktoken.Tiktoken
}

func NewCounter() *Counter {
	return &Counter{}
}

// Count returns the estimated token count of text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(strings.Fields(text))
}

func (c *Counter) encoding() *tiktoken.Tiktoken {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loaded {
		c.loaded = true
		if enc, err := tiktoken.GetEncoding(encodingName); err == nil {
			c.enc = enc
		}
	}
	return c.enc
}
