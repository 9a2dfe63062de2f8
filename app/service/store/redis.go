package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"meetwise/app/booking"
	"meetwise/app/config"

	"github.com/go-redis/redis/v8"
	"github.com/samber/oops"
)

var _ Store = (*Redis)(nil)

const (
	redisPrefix        = "meetwise:"
	redisRecencyKey    = redisPrefix + "conversations"
	redisStateSuffix   = ":state"
	redisMessageSuffix = ":messages"
)

// Redis keeps state as JSON under a WATCHed key, transcripts as lists and a
// sorted set of conversations scored by last update.
type Redis struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedis(ctx context.Context, cfg config.Redis) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, oops.In("store").With("driver", "redis", "addr", cfg.Addr).Wrapf(err, "ping redis")
	}

	return NewRedisWithClient(client), nil
}

func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client, now: time.Now}
}

func stateKey(conversationID string) string {
	return redisPrefix + conversationID + redisStateSuffix
}

func messagesKey(conversationID string) string {
	return redisPrefix + conversationID + redisMessageSuffix
}

func (r *Redis) LoadState(ctx context.Context, conversationID string) (booking.State, error) {
	errBuilder := oops.In("store").With("conversation_id", conversationID)

	data, err := r.client.Get(ctx, stateKey(conversationID)).Result()
	if err == redis.Nil {
		return booking.State{}, errBuilder.Wrap(ErrNotFound)
	}
	if err != nil {
		return booking.State{}, errBuilder.Wrapf(err, "get state")
	}

	var st booking.State
	if err := json.Unmarshal([]byte(data), &st); err != nil {
		return booking.State{}, errBuilder.Wrapf(err, "decode state")
	}

	return st, nil
}

func (r *Redis) SaveState(ctx context.Context, st booking.State, expectedVersion int64) (int64, error) {
	errBuilder := oops.In("store").With("conversation_id", st.ConversationID, "expected_version", expectedVersion)
	key := stateKey(st.ConversationID)

	saved := st.Clone()
	saved.Version = expectedVersion + 1

	data, err := json.Marshal(saved)
	if err != nil {
		return 0, errBuilder.Wrapf(err, "encode state")
	}

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		var current int64

		raw, err := tx.Get(ctx, key).Result()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		default:
			var stored booking.State
			if err := json.Unmarshal([]byte(raw), &stored); err != nil {
				return err
			}
			current = stored.Version
		}

		if current != expectedVersion {
			return booking.ErrVersionConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, redisRecencyKey, &redis.Z{
				Score:  float64(r.now().UnixMilli()),
				Member: st.ConversationID,
			})
			return nil
		})
		return err
	}, key)
	if errors.Is(err, booking.ErrVersionConflict) || errors.Is(err, redis.TxFailedErr) {
		return 0, errBuilder.Wrap(booking.ErrVersionConflict)
	}
	if err != nil {
		return 0, errBuilder.Wrapf(err, "save state")
	}

	return saved.Version, nil
}

func (r *Redis) AppendMessages(ctx context.Context, msgs ...booking.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	now := float64(r.now().UnixMilli())

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, msg := range prepareMessages(msgs) {
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}

			pipe.RPush(ctx, messagesKey(msg.ConversationID), data)
			pipe.ZAdd(ctx, redisRecencyKey, &redis.Z{Score: now, Member: msg.ConversationID})
		}
		return nil
	})
	if err != nil {
		return oops.In("store").Wrapf(err, "append messages")
	}

	return nil
}

func (r *Redis) History(ctx context.Context, conversationID string) ([]booking.Message, error) {
	errBuilder := oops.In("store").With("conversation_id", conversationID)

	items, err := r.client.LRange(ctx, messagesKey(conversationID), 0, -1).Result()
	if err != nil {
		return nil, errBuilder.Wrapf(err, "read messages")
	}

	result := make([]booking.Message, 0, len(items))
	for _, item := range items {
		var msg booking.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, errBuilder.Wrapf(err, "decode message")
		}
		result = append(result, msg)
	}

	return result, nil
}

func (r *Redis) Recent(ctx context.Context, limit int) ([]Summary, error) {
	errBuilder := oops.In("store").With("limit", limit)

	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}

	members, err := r.client.ZRevRangeWithScores(ctx, redisRecencyKey, 0, stop).Result()
	if err != nil {
		return nil, errBuilder.Wrapf(err, "read recency set")
	}
	if len(members) == 0 {
		return []Summary{}, nil
	}

	cmds := make([]*redis.StringCmd, len(members))
	_, err = r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, member := range members {
			cmds[i] = pipe.Get(ctx, stateKey(member.Member.(string)))
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, errBuilder.Wrapf(err, "read states")
	}

	result := make([]Summary, 0, len(members))
	for i, member := range members {
		summary := Summary{
			ConversationID: member.Member.(string),
			UpdatedAt:      time.UnixMilli(int64(member.Score)).UTC(),
		}

		if raw, err := cmds[i].Result(); err == nil {
			var st booking.State
			if err := json.Unmarshal([]byte(raw), &st); err != nil {
				return nil, errBuilder.With("conversation_id", summary.ConversationID).Wrapf(err, "decode state")
			}
			summary.Status = st.Draft.Status
			summary.TurnCount = st.TurnCount
		}

		result = append(result, summary)
	}

	return result, nil
}

func (r *Redis) Delete(ctx context.Context, conversationID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, stateKey(conversationID), messagesKey(conversationID))
		pipe.ZRem(ctx, redisRecencyKey, conversationID)
		return nil
	})
	if err != nil {
		return oops.In("store").With("conversation_id", conversationID).Wrapf(err, "delete conversation")
	}

	return nil
}

func (r *Redis) Purge(ctx context.Context, before time.Time) (int, error) {
	errBuilder := oops.In("store").With("before", before)

	ids, err := r.client.ZRangeByScore(ctx, redisRecencyKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, errBuilder.Wrapf(err, "read recency set")
	}
	if len(ids) == 0 {
		return 0, nil
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Del(ctx, stateKey(id), messagesKey(id))
			pipe.ZRem(ctx, redisRecencyKey, id)
		}
		return nil
	})
	if err != nil {
		return 0, errBuilder.Wrapf(err, "delete conversations")
	}

	return len(ids), nil
}

func (r *Redis) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return oops.In("store").Wrapf(err, "ping redis")
	}
	return nil
}

func (r *Redis) Shutdown() error {
	return r.client.Close()
}
