package retrieval

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

const loadBatchSize = 64

// Load reads JSONL entries from r and indexes them in batches. A namespace given in nsOverride
// applies to lines that omit one.
func Load(ctx context.Context, idx *SQLiteIndex, r io.Reader, nsOverride Namespace) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var batch []Entry
	total := 0
	flush := func() error {
		n, err := idx.Add(ctx, batch)
		total += n
		batch = batch[:0]
		return err
	}
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return total, fmt.Errorf("line %d: %w", line, err)
		}
		if e.Namespace == "" {
			e.Namespace = nsOverride
		}
		if e.ID == "" {
			e.ID = fmt.Sprintf("line-%d", line)
		}
		batch = append(batch, e)
		if len(batch) >= loadBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return total, err
	}
	if len(batch) > 0 {
		if err := flush(); err != nil {
			return total, err
		}
	}
	return total, nil
}
