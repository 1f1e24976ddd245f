package challenge

import (
	"fmt"
	"sort"

	"github.com/colorfulnotion/commitchain/chainerrors"
	"github.com/colorfulnotion/commitchain/common"
	"github.com/colorfulnotion/commitchain/log"
	"github.com/colorfulnotion/commitchain/merkle"
)

type key struct {
	account common.Address
	eon     uint64
}

// Book holds every challenge ever opened. At most one challenge per
// (account, eon) is pending at a time.
type Book struct {
	nextID     uint64
	challenges map[uint64]*Challenge
	pending    map[key]uint64
}

func NewBook() *Book {
	return &Book{
		nextID:     1,
		challenges: make(map[uint64]*Challenge),
		pending:    make(map[key]uint64),
	}
}

// Open records a new challenge in status Opened. The response deadline is
// block + responseBlocks.
func (b *Book) Open(account common.Address, eon, block, responseBlocks uint64, expect Expectation) (Challenge, error) {
	k := key{account, eon}
	if id, ok := b.pending[k]; ok {
		return Challenge{}, fmt.Errorf("%w: challenge %d already pending for %s in eon %d", chainerrors.ErrPDuplicateChallenge, id, account.Hex(), eon)
	}
	c := &Challenge{
		ID:        b.nextID,
		Account:   account,
		Eon:       eon,
		OpenBlock: block,
		Deadline:  block + responseBlocks,
		Status:    Opened,
		Expect:    expect,
	}
	b.challenges[c.ID] = c
	b.pending[k] = c.ID
	b.nextID++
	log.Debug(log.ChallengeMonitoring, "challenge opened", "id", c.ID, "account", account, "eon", eon, "deadline", c.Deadline)
	return *c, nil
}

// AwaitResponse moves challenge id to HubResponding.
func (b *Book) AwaitResponse(id uint64) (Challenge, error) {
	c, err := b.get(id)
	if err != nil {
		return Challenge{}, err
	}
	if err := c.AwaitResponse(); err != nil {
		return Challenge{}, err
	}
	return *c, nil
}

// Respond evaluates the hub's answer to challenge id at block. A pending
// challenge always resolves: an invalid or late answer upholds it.
func (b *Book) Respond(id, block uint64, v merkle.Verifier, root common.Hash, resp *Response) (Challenge, error) {
	c, err := b.get(id)
	if err != nil {
		return Challenge{}, err
	}
	if !c.Pending() {
		return *c, fmt.Errorf("%w: challenge %d is %s", chainerrors.ErrPChallengeNotPending, id, c.Status)
	}
	if c.Expired(block) {
		b.uphold(c, block, fmt.Sprintf("response at block %d after deadline %d", block, c.Deadline))
		return *c, nil
	}
	if c.Status == Opened {
		if err := c.AwaitResponse(); err != nil {
			return Challenge{}, err
		}
	}
	leaf, err := Evaluate(v, root, c.Account, c.Eon, &c.Expect, resp)
	if err != nil {
		b.uphold(c, block, err.Error())
		return *c, nil
	}
	if err := c.Dismiss(block, leaf); err != nil {
		return Challenge{}, err
	}
	delete(b.pending, key{c.Account, c.Eon})
	log.Debug(log.ChallengeMonitoring, "challenge dismissed", "id", id, "account", c.Account, "eon", c.Eon)
	return *c, nil
}

func (b *Book) uphold(c *Challenge, block uint64, reason string) {
	if err := c.Uphold(block, reason); err != nil {
		log.Warn(log.ChallengeMonitoring, "uphold", "id", c.ID, "err", err)
		return
	}
	delete(b.pending, key{c.Account, c.Eon})
	log.Info(log.ChallengeMonitoring, "challenge upheld", "id", c.ID, "account", c.Account, "eon", c.Eon, "reason", reason)
}

// Expire upholds every pending challenge whose deadline is at or before
// block, in id order.
func (b *Book) Expire(block uint64) []Challenge {
	var out []Challenge
	for _, c := range b.sorted() {
		if c.Expired(block) {
			b.uphold(c, block, fmt.Sprintf("no response by deadline %d", c.Deadline))
			out = append(out, *c)
		}
	}
	return out
}

// UpholdPending upholds every challenge still pending in eon.
func (b *Book) UpholdPending(eon, block uint64, reason string) []Challenge {
	var out []Challenge
	for _, c := range b.sorted() {
		if c.Eon == eon && c.Pending() {
			b.uphold(c, block, reason)
			out = append(out, *c)
		}
	}
	return out
}

// PendingCount is the number of unresolved challenges in eon.
func (b *Book) PendingCount(eon uint64) int {
	n := 0
	for k := range b.pending {
		if k.eon == eon {
			n++
		}
	}
	return n
}

// NextDeadline is the earliest deadline among pending challenges of eon.
func (b *Book) NextDeadline(eon uint64) (uint64, bool) {
	var (
		min   uint64
		found bool
	)
	for k, id := range b.pending {
		if k.eon != eon {
			continue
		}
		if d := b.challenges[id].Deadline; !found || d < min {
			min, found = d, true
		}
	}
	return min, found
}

// HasUpheld reports whether account won a challenge in any eon of [from, to].
func (b *Book) HasUpheld(account common.Address, from, to uint64) bool {
	for _, c := range b.challenges {
		if c.Account == account && c.Status == Upheld && c.Eon >= from && c.Eon <= to {
			return true
		}
	}
	return false
}

func (b *Book) Get(id uint64) (Challenge, error) {
	c, err := b.get(id)
	if err != nil {
		return Challenge{}, err
	}
	return *c, nil
}

func (b *Book) get(id uint64) (*Challenge, error) {
	c, ok := b.challenges[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", chainerrors.ErrIUnknownChallenge, id)
	}
	return c, nil
}

// ForEon returns the challenges of eon in id order.
func (b *Book) ForEon(eon uint64) []Challenge {
	var out []Challenge
	for _, c := range b.sorted() {
		if c.Eon == eon {
			out = append(out, *c)
		}
	}
	return out
}

func (b *Book) Len() int {
	return len(b.challenges)
}

func (b *Book) sorted() []*Challenge {
	out := make([]*Challenge, 0, len(b.challenges))
	for _, c := range b.challenges {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
