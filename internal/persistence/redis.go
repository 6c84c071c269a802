package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/workbenchhq/controlplane/internal/workorder"
)

// RedisBackend persists the same records as FileBackend but in Redis hashes,
// for deployments that run multiple control-plane instances against one
// shared store. Keys mirror the file layout: controlplane:<kind>:<id>.
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend wraps an already-configured *redis.Client.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) set(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, data, 0).Err()
}

func (r *RedisBackend) get(ctx context.Context, key string, v any) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return ErrNotFound
		}
		return err
	}
	return json.Unmarshal(data, v)
}

func (r *RedisBackend) SaveWorkOrder(ctx context.Context, wo workorder.WorkOrder) error {
	if err := r.set(ctx, "controlplane:workorder:"+wo.ID, wo); err != nil {
		return err
	}
	return r.client.SAdd(ctx, "controlplane:workorders", wo.ID).Err()
}

func (r *RedisBackend) LoadWorkOrder(ctx context.Context, id string) (workorder.WorkOrder, error) {
	var wo workorder.WorkOrder
	err := r.get(ctx, "controlplane:workorder:"+id, &wo)
	return wo, err
}

func (r *RedisBackend) ListWorkOrders(ctx context.Context, status workorder.WorkOrderStatus, limit, offset int) ([]workorder.WorkOrder, error) {
	ids, err := r.client.SMembers(ctx, "controlplane:workorders").Result()
	if err != nil {
		return nil, err
	}
	var all []workorder.WorkOrder
	for _, id := range ids {
		wo, err := r.LoadWorkOrder(ctx, id)
		if err != nil {
			continue
		}
		if status != "" && wo.Status != status {
			continue
		}
		all = append(all, wo)
	}
	if offset > len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (r *RedisBackend) SaveRun(ctx context.Context, run workorder.Run) error {
	if err := r.set(ctx, "controlplane:run:"+run.ID, run); err != nil {
		return err
	}
	return r.client.SAdd(ctx, "controlplane:runs:"+run.WorkOrderID, run.ID).Err()
}

func (r *RedisBackend) LoadRun(ctx context.Context, id string) (workorder.Run, error) {
	var run workorder.Run
	err := r.get(ctx, "controlplane:run:"+id, &run)
	return run, err
}

func (r *RedisBackend) ListRuns(ctx context.Context, workOrderID string) ([]workorder.Run, error) {
	ids, err := r.client.SMembers(ctx, "controlplane:runs:"+workOrderID).Result()
	if err != nil {
		return nil, err
	}
	var all []workorder.Run
	for _, id := range ids {
		run, err := r.LoadRun(ctx, id)
		if err != nil {
			continue
		}
		all = append(all, run)
	}
	return all, nil
}

func (r *RedisBackend) SaveIteration(ctx context.Context, data workorder.IterationData) error {
	key := fmt.Sprintf("controlplane:iteration:%s:%d", data.RunID, data.Iteration)
	if err := r.set(ctx, key, data); err != nil {
		return err
	}
	return r.client.SAdd(ctx, "controlplane:iterations:"+data.RunID, data.Iteration).Err()
}

func (r *RedisBackend) ListIterations(ctx context.Context, runID string) ([]workorder.IterationData, error) {
	nums, err := r.client.SMembers(ctx, "controlplane:iterations:"+runID).Result()
	if err != nil {
		return nil, err
	}
	var all []workorder.IterationData
	for _, n := range nums {
		var data workorder.IterationData
		key := fmt.Sprintf("controlplane:iteration:%s:%s", runID, n)
		if err := r.get(ctx, key, &data); err != nil {
			continue
		}
		all = append(all, data)
	}
	return all, nil
}

func (r *RedisBackend) SaveAudit(ctx context.Context, record AuditRecord) error {
	return r.set(ctx, "controlplane:audit:"+record.RunID, record)
}

var _ Store = (*RedisBackend)(nil)
