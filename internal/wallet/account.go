// Package wallet provides the account and balance collaborators of the transfer form.
package wallet

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"retrans/internal/chain"
)

// Account is the active wallet identity.
type Account struct {
	Connected bool           `json:"connected"`
	Address   common.Address `json:"address"`
}

func (a Account) String() string {
	if !a.Connected {
		return "disconnected"
	}
	return a.Address.Hex()
}

// Provider supplies the active account and notifies on changes.
type Provider interface {
	Current() Account
	// Subscribe returns a channel of account changes and a cancel func.
	// Slow readers only see the latest account.
	Subscribe() (<-chan Account, func())
}

// Static is a settable Provider.
type Static struct {
	mu      sync.Mutex
	current Account
	subs    map[int]chan Account
	nextID  int
}

func NewStatic(a Account) *Static {
	return &Static{current: a, subs: make(map[int]chan Account)}
}

// FromPrivateKey builds a connected provider for the key's address.
func FromPrivateKey(hexKey string) (*Static, error) {
	key, err := chain.ParsePrivateKey(hexKey)
	if err != nil {
		return nil, err
	}
	return NewStatic(Account{Connected: true, Address: crypto.PubkeyToAddress(key.PublicKey)}), nil
}

func (s *Static) Current() Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Set replaces the active account, notifying subscribers when it differs.
func (s *Static) Set(a Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == a {
		return
	}
	s.current = a
	for _, ch := range s.subs {
		select {
		case ch <- a:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- a
		}
	}
}

func (s *Static) Disconnect() {
	s.Set(Account{})
}

func (s *Static) Subscribe() (<-chan Account, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan Account, 1)
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}
