package memory

import (
	"context"
	"fmt"
	"sync"

	"trainingportal/internal/model"
)

// Directory is a fixed recipient list. Err, when set, fails every call.
type Directory struct {
	mu         sync.RWMutex
	recipients []model.Recipient
	err        error
}

func NewDirectory(recipients ...model.Recipient) *Directory {
	return &Directory{recipients: recipients}
}

// SetError makes subsequent calls fail with err. A nil err restores the directory.
func (d *Directory) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

func (d *Directory) ListRecipients(context.Context) ([]model.Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDirectoryUnavailable, d.err)
	}
	out := make([]model.Recipient, len(d.recipients))
	copy(out, d.recipients)
	return out, nil
}

func (d *Directory) GetRecipient(_ context.Context, id int64) (*model.Recipient, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDirectoryUnavailable, d.err)
	}
	for _, r := range d.recipients {
		if r.ID == id {
			out := r
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: user %d", model.ErrNotFound, id)
}
