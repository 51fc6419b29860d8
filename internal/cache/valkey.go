package cache

import (
	"context"
	"time"

	"github.com/valkey-io/valkey-go"
)

// Valkey stores entries in a Valkey (or Redis) server under a key prefix.
type Valkey struct {
	client valkey.Client
	prefix string
}

func NewValkey(client valkey.Client, prefix string) *Valkey {
	return &Valkey{client: client, prefix: prefix}
}

func (v *Valkey) key(k string) string {
	if v.prefix == "" {
		return k
	}
	return v.prefix + ":" + k
}

func (v *Valkey) Get(ctx context.Context, key string) ([]byte, bool, error) {
	payload, err := v.client.Do(ctx, v.client.B().Get().Key(v.key(key)).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			recordLookup("valkey", false)
			return nil, false, nil
		}
		return nil, false, err
	}
	recordLookup("valkey", true)
	return payload, true, nil
}

func (v *Valkey) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	builder := v.client.B().Set().Key(v.key(key)).Value(valkey.BinaryString(value))
	var cmd valkey.Completed
	if ttl > 0 {
		if ttl < time.Second {
			ttl = time.Second
		}
		cmd = builder.Ex(ttl).Build()
	} else {
		cmd = builder.Build()
	}
	return v.client.Do(ctx, cmd).Error()
}

func (v *Valkey) Close() {
	v.client.Close()
}

var _ Cache = (*Valkey)(nil)
