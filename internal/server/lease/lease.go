// Package lease provides owner-token locks with a TTL. A lease that is not
// renewed expires on its own, so a crashed holder blocks others for at most
// one TTL.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/repostore/internal/common"
	"github.com/google/uuid"
)

var (
	// ErrBusy is returned by Acquire when another owner holds the key.
	ErrBusy = fmt.Errorf("lease is held by another owner: %w", common.ErrConflict)
	// ErrLost is returned by Renew when the lease expired or was taken over.
	ErrLost = fmt.Errorf("lease lost: %w", common.ErrConflict)
)

type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error)
}

type backend interface {
	renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	release(ctx context.Context, key, token string) error
}

type Lease struct {
	Key   string
	Token string
	TTL   time.Duration

	b backend
}

func newToken() string {
	return uuid.NewString()
}

// Renew extends the lease by its TTL. It fails with ErrLost if the token no
// longer owns the key.
func (l *Lease) Renew(ctx context.Context) error {
	ok, err := l.b.renew(ctx, l.Key, l.Token, l.TTL)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", l.Key, ErrLost)
	}
	return nil
}

// Release drops the lease if it is still owned by this token.
func (l *Lease) Release(ctx context.Context) error {
	return l.b.release(ctx, l.Key, l.Token)
}

// Keep renews the lease every TTL/3 until the returned cancel func is called.
// The returned context is cancelled when a renewal reports the lease lost.
func (l *Lease) Keep(ctx context.Context) (context.Context, context.CancelFunc) {
	kctx, cancel := context.WithCancel(ctx)
	interval := l.TTL / 3
	if interval <= 0 {
		interval = time.Second
	}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-kctx.Done():
				return
			case <-t.C:
				if err := l.Renew(kctx); err != nil {
					if kctx.Err() == nil && isLost(err) {
						cancel()
						return
					}
				}
			}
		}
	}()

	return kctx, cancel
}

func isLost(err error) bool {
	return errors.Is(err, ErrLost)
}
