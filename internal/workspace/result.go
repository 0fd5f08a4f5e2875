package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// UpdateResult merges fields into result.json and stamps updated_at.
// task_id always keeps the workspace's id. Returns the merged document.
func (f *Factory) UpdateResult(ctx context.Context, taskID string, fields map[string]any) (map[string]any, error) {
	var merged map[string]any
	err := f.withExisting(ctx, taskID, func(ws *Workspace) error {
		current, err := readResult(ws.ResultPath())
		if err != nil {
			return err
		}
		for k, v := range fields {
			current[k] = v
		}
		current["task_id"] = taskID
		current["updated_at"] = f.now().UTC().Format(time.RFC3339Nano)

		if err := writeJSONAtomic(ws.ResultPath(), current); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
		merged = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

// Result returns the current result.json document.
func (f *Factory) Result(taskID string) (map[string]any, error) {
	ws, err := f.Get(taskID)
	if err != nil {
		return nil, err
	}
	return readResult(ws.ResultPath())
}

func readResult(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to read result: %w", err)
	}
	result := map[string]any{}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse result: %w", err)
	}
	return result, nil
}
