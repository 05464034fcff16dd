// Package batch implements the strict-priority, byte-bounded batcher that
// fills one outgoing move-token from a friend's wanted configuration and
// its three pending queues (spec C4). It is grounded on htlcswitch's
// forwarding loop, which likewise drains several candidate sources into one
// outgoing link message under a size budget, in a fixed priority order so
// housekeeping updates never starve behind a backlog of payments.
package batch

import (
	"github.com/tokennet/funder/creditline"
	"github.com/tokennet/funder/friend"
	"github.com/tokennet/funder/tokenchannel"
	"github.com/tokennet/funder/wire"
)

// DefaultMaxMoveTokenBytes bounds a single move-token's approximate
// serialized size (spec §4.4, SPEC_FULL EXP-4).
const DefaultMaxMoveTokenBytes = 0x10000

// Plan reports what Drain admitted, for logging/tracing.
type Plan struct {
	AdmittedMaxDebt      int
	AdmittedStatus       int
	AdmittedResponses    int
	AdmittedRequests     int
	AdmittedUserRequests int
}

// Drain fills b with candidates pulled from f in strict priority order:
// SetRemoteMaxDebt, then EnableRequests/DisableRequests, then
// pending_responses, then pending_requests, then pending_user_requests
// (spec §4.4). It stops a tier as soon as an admitted-but-rejected item is
// hit (the item is pushed back to the front of its queue) or the byte
// budget is exhausted, then moves on to the next tier since a smaller
// lower-priority candidate may still fit.
func Drain(b *tokenchannel.Builder, f *friend.Friend, maxBytes int) (Plan, error) {
	var plan Plan

	fits := func(currency creditline.Currency, op wire.Operation) bool {
		return wire.ApproxBytesCount(b.Snapshot(), currency, op) <= maxBytes
	}

	if f.Channel != nil {
		for currency, mc := range f.Channel.MutualCredits {
			if mc.RemoteMaxDebt == f.WantedRemoteMaxDebt {
				continue
			}
			op := wire.Operation{Kind: wire.OpSetRemoteMaxDebt, SetRemoteMaxDebt: f.WantedRemoteMaxDebt}
			if !fits(currency, op) {
				continue
			}
			added, err := b.TryAdd(currency, op)
			if err != nil {
				return plan, err
			}
			if added {
				plan.AdmittedMaxDebt++
			}
		}

		for currency, mc := range f.Channel.MutualCredits {
			if mc.RequestsStatus.Local == f.WantedLocalRequestsStatus {
				continue
			}
			kind := wire.OpEnableRequests
			if f.WantedLocalRequestsStatus == creditline.Closed {
				kind = wire.OpDisableRequests
			}
			op := wire.Operation{Kind: kind}
			if !fits(currency, op) {
				continue
			}
			added, err := b.TryAdd(currency, op)
			if err != nil {
				return plan, err
			}
			if added {
				plan.AdmittedStatus++
			}
		}
	}

	for {
		pr, ok := f.PopResponse()
		if !ok {
			break
		}
		op := wire.Operation{Kind: wire.OpResponseSendFunds, Response: pr.Response}
		if pr.IsFailure {
			op = wire.Operation{Kind: wire.OpFailureSendFunds, Failure: pr.Failure}
		}
		if !fits(pr.Currency, op) {
			f.EnqueueResponseFront(pr)
			break
		}
		added, err := b.TryAdd(pr.Currency, op)
		if err != nil {
			return plan, err
		}
		if !added {
			f.EnqueueResponseFront(pr)
			break
		}
		plan.AdmittedResponses++
	}

	for {
		pr, ok := f.PopRequest()
		if !ok {
			break
		}
		op := wire.Operation{Kind: wire.OpRequestSendFunds, Request: pr.Request}
		if !fits(pr.Currency, op) {
			f.EnqueueRequestFront(pr)
			break
		}
		added, err := b.TryAdd(pr.Currency, op)
		if err != nil {
			return plan, err
		}
		if !added {
			f.EnqueueRequestFront(pr)
			break
		}
		plan.AdmittedRequests++
	}

	for {
		pr, ok := f.PopUserRequest()
		if !ok {
			break
		}
		op := wire.Operation{Kind: wire.OpRequestSendFunds, Request: pr.Request}
		if !fits(pr.Currency, op) {
			f.EnqueueUserRequestFront(pr)
			break
		}
		added, err := b.TryAdd(pr.Currency, op)
		if err != nil {
			return plan, err
		}
		if !added {
			f.EnqueueUserRequestFront(pr)
			break
		}
		plan.AdmittedUserRequests++
	}

	log.Debugf("drained batch: max_debt=%d status=%d responses=%d requests=%d user_requests=%d",
		plan.AdmittedMaxDebt, plan.AdmittedStatus, plan.AdmittedResponses, plan.AdmittedRequests, plan.AdmittedUserRequests)

	return plan, nil
}
