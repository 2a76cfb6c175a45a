package tracker

import (
	"time"

	"signal-workshop/internal/domain"
)

// Decision is what one quote does to one active signal.
type Decision struct {
	// Skip is set for quotes at or before the signal's open time.
	Skip    bool
	Price   float64
	ROI     float64
	Flags   domain.TPFlags
	Closure *domain.Closure
}

// Decide applies a quote to a signal. Stop-loss wins over TP3, which wins
// over timeout. When one bar crosses both the stop and a target, a bar
// moving against the position (or a doji) is assumed to have reached the
// stop first and contributes no TP flags.
func Decide(sig domain.Signal, q domain.Quote, timeout time.Duration) Decision {
	if !q.Time.After(sig.Timestamp) {
		return Decision{Skip: true}
	}

	long := sig.Direction == domain.DirectionLong
	reached := func(level float64) bool {
		if long {
			return q.High >= level
		}
		return q.Low <= level
	}
	stopped := q.Low <= sig.StopLoss
	against := q.Close <= q.Open
	if !long {
		stopped = q.High >= sig.StopLoss
		against = q.Close >= q.Open
	}

	flags := sig.TPFlags
	if stopped && against {
		return closeAt(sig, q, flags, sig.StopLoss, domain.ReasonStopLoss)
	}

	flags = flags.Merge(domain.TPFlags{
		TP1: reached(sig.TP1Price),
		TP2: reached(sig.TP2Price),
		TP3: reached(sig.TP3Price),
	})
	switch {
	case reached(sig.TP3Price):
		return closeAt(sig, q, flags, sig.TP3Price, domain.ReasonTP3)
	case stopped:
		return closeAt(sig, q, flags, sig.StopLoss, domain.ReasonStopLoss)
	case timeout > 0 && q.Time.Sub(sig.Timestamp) >= timeout:
		return closeAt(sig, q, flags, q.Close, domain.ReasonTimeout)
	}
	return Decision{Price: q.Close, ROI: sig.ROIAt(q.Close), Flags: flags}
}

func closeAt(sig domain.Signal, q domain.Quote, flags domain.TPFlags, price float64, reason domain.CloseReason) Decision {
	roi := sig.ROIAt(price)
	return Decision{
		Price: price,
		ROI:   roi,
		Flags: flags,
		Closure: &domain.Closure{
			ExitPrice: price,
			FinalROI:  roi,
			Flags:     flags,
			CloseTime: q.Time,
			Reason:    reason,
		},
	}
}
