package broker

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/backkem/screenview/pkg/crypto"
	"github.com/backkem/screenview/pkg/protocol/svsc"
)

// maxLeaseIDAttempts bounds the draws for an unused lease id.
const maxLeaseIDAttempts = 16

// lease is a rendezvous reservation. It outlives the connection that
// holds it so a reconnecting peer can renew it with the cookie.
type lease struct {
	id         svsc.LeaseID
	cookie     svsc.Cookie
	expiration time.Time

	// holder is the connection that last requested or renewed the lease,
	// or zero while nobody is connected.
	holder ConnID
}

func (l *lease) expired(now time.Time) bool {
	return !now.Before(l.expiration)
}

func (l *lease) data() *svsc.LeaseResponseData {
	return &svsc.LeaseResponseData{ID: l.id, Cookie: l.cookie, Expiration: l.expiration}
}

// leaseTable indexes leases by id and by cookie. Callers hold the broker lock.
type leaseTable struct {
	byID     map[svsc.LeaseID]*lease
	byCookie map[svsc.Cookie]*lease
}

func newLeaseTable() *leaseTable {
	return &leaseTable{
		byID:     make(map[svsc.LeaseID]*lease),
		byCookie: make(map[svsc.Cookie]*lease),
	}
}

func (t *leaseTable) len() int {
	return len(t.byID)
}

// create draws a fresh id and cookie.
func (t *leaseTable) create(rand io.Reader, expiration time.Time) (*lease, error) {
	l := &lease{expiration: expiration}
	var b [4]byte
	for i := 0; ; i++ {
		if i == maxLeaseIDAttempts {
			return nil, ErrLeaseIDExhausted
		}
		if err := crypto.ReadRandom(rand, b[:]); err != nil {
			return nil, err
		}
		id := svsc.LeaseID(binary.LittleEndian.Uint32(b[:]))
		if _, used := t.byID[id]; id != 0 && !used {
			l.id = id
			break
		}
	}
	for {
		if err := crypto.ReadRandom(rand, l.cookie[:]); err != nil {
			return nil, err
		}
		if _, used := t.byCookie[l.cookie]; !used {
			break
		}
	}
	t.byID[l.id] = l
	t.byCookie[l.cookie] = l
	return l, nil
}

// live returns the lease for id unless it is missing or expired.
func (t *leaseTable) live(id svsc.LeaseID, now time.Time) *lease {
	l, ok := t.byID[id]
	if !ok || l.expired(now) {
		return nil
	}
	return l
}

// liveCookie returns the lease for cookie unless it is missing or expired.
func (t *leaseTable) liveCookie(c svsc.Cookie, now time.Time) *lease {
	l, ok := t.byCookie[c]
	if !ok || l.expired(now) {
		return nil
	}
	return l
}

func (t *leaseTable) remove(l *lease) {
	delete(t.byID, l.id)
	delete(t.byCookie, l.cookie)
}

// expire removes every lease past its expiration and returns them.
func (t *leaseTable) expire(now time.Time) []*lease {
	var out []*lease
	for _, l := range t.byID {
		if l.expired(now) {
			t.remove(l)
			out = append(out, l)
		}
	}
	return out
}
