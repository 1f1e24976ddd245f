package chain

import (
	"github.com/colorfulnotion/commitchain/log"
	"github.com/colorfulnotion/commitchain/types"
)

// settle applies every deadline that has passed by block h: missed
// submissions, unanswered challenges and finalization. Only the oldest
// unfinalized eon can be affected, since all windows of an eon close before
// the next one starts.
func (c *Chain) settle(h uint64) {
	cur := c.params.EonAt(h)
	for !c.faulted() {
		e := c.lastFinalized + 1
		if e > cur {
			return
		}
		st := c.ensureEon(e)
		switch st.Status {
		case types.EonOpen:
			if h < c.params.SubmissionDeadline(e) {
				return
			}
			c.fault(e, types.FaultMissedCommitment, h)
		case types.EonCommitting:
			if upheld := c.challenges.Expire(h); len(upheld) > 0 {
				for i := range upheld {
					c.emit(upheld[i].Event(h, st.Root))
				}
				c.fault(e, types.FaultChallengeUpheld, h)
				return
			}
			if h < c.params.ChallengeClose(e) || c.challenges.PendingCount(e) > 0 {
				return
			}
			c.finalize(e, h)
		default:
			return
		}
	}
}

func (c *Chain) finalize(e, h uint64) {
	st := c.eons[e]
	st.Status = types.EonFinalized
	c.lastFinalized = e
	for addr, a := range c.accounts {
		if leaf, ok := a.answers[e]; ok {
			c.anchor(addr, a, e, leaf)
		}
	}
	c.emit(types.Event{Kind: types.EventEonFinalized, Block: h, Eon: e, Root: st.Root})
	log.Info(log.ChainMonitoring, "eon finalized", "eon", e, "root", st.Root.String_short(), "block", h)
}

// fault halts the chain at eon e. Remaining challenges of e are upheld and
// its unfinalized answers are dropped.
func (c *Chain) fault(e uint64, reason types.FaultReason, h uint64) {
	st := c.ensureEon(e)
	st.Status = types.EonFaulted
	st.Fault = reason
	st.FaultBlock = h
	c.faultEon = e
	for _, ch := range c.challenges.UpholdPending(e, h, "eon "+string(reason)) {
		c.emit(ch.Event(h, st.Root))
	}
	for _, a := range c.accounts {
		delete(a.answers, e)
	}
	c.emit(types.Event{Kind: types.EventEonFaulted, Block: h, Eon: e, Root: st.Root, Detail: string(reason)})
	log.Warn(log.ChainMonitoring, "eon faulted, chain halted", "eon", e, "reason", reason, "block", h, "lastFinalized", c.lastFinalized)
}
