package outputcounter

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/MuchTitan/go-log-shipper/internal"
	"github.com/MuchTitan/go-log-shipper/internal/output"
	"github.com/MuchTitan/go-log-shipper/internal/util"
)

// Counter accepts every chunk and prints running totals per file.
type Counter struct {
	name   string
	quiet  bool
	mu     sync.Mutex
	chunks uint64
	bytes  map[string]int64
}

func (c *Counter) Name() string {
	return c.name
}

func (c *Counter) Init(config map[string]any) error {
	var err error
	if c.name, err = util.String(config, "Name"); err != nil {
		return err
	}
	if c.name == "" {
		c.name = "counter"
	}
	c.quiet = config["Quiet"] == true
	c.bytes = make(map[string]int64)
	return nil
}

// Add records a delivered chunk and returns the chunk count and the byte total for its file.
func (c *Counter) Add(path string, n int64) (uint64, int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks++
	c.bytes[path] += n
	return c.chunks, c.bytes[path]
}

func (c *Counter) Total(path string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes[path]
}

func (c *Counter) Send(_ context.Context, chunk *internal.Chunk) output.Result {
	n := int64(len(chunk.Data))
	chunks, total := c.Add(chunk.Path, n)
	if !c.quiet {
		data, _ := json.Marshal(map[string]any{
			"chunks": chunks,
			"path":   chunk.Path,
			"bytes":  total,
		})
		if _, err := fmt.Println(string(data)); err != nil {
			return output.Transient(err)
		}
	}
	return output.DeliveredResult(n)
}

func (c *Counter) Close() error {
	return nil
}
