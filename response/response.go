// Package response implements the response selector: the pure function
// that picks what a channel replies to its source connector once the
// destination chain has finished.
package response

import (
	"context"
	"fmt"
	"sort"

	"github.com/fluxhealth/channelengine/chain"
	"github.com/fluxhealth/channelengine/message"
)

// Policy selects how a channel's reply to its source is computed.
type Policy string

const (
	PolicyNone                  Policy = "NONE"
	PolicyAutoBeforeProcessing  Policy = "AUTO_BEFORE_PROCESSING"
	PolicyAutoAfterProcessing   Policy = "AUTO_AFTER_PROCESSING"
	PolicySourceTransformed     Policy = "SOURCE_TRANSFORMED"
	PolicyPostprocessor         Policy = "POSTPROCESSOR"
	PolicyDestinationsCompleted Policy = "DESTINATIONS_COMPLETED"
)

// AutoResponder generates a reply from the raw inbound message, e.g. an
// HL7 acknowledgment generator.
type AutoResponder interface {
	Respond(ctx context.Context, raw string) (string, error)
}

// Input carries every value a policy might need to produce a reply.
type Input struct {
	Raw                string
	SourceTransformed  string
	PostprocessorStage string
	Results            []chain.Result
}

// precedence ranks terminal connector statuses for DESTINATIONS_COMPLETED;
// higher wins. Statuses outside this table rank lowest.
var precedence = map[message.Status]int{
	message.StatusSent:    4,
	message.StatusQueued:  3,
	message.StatusFiltered: 2,
	message.StatusError:   1,
}

// Select computes the reply for policy given in. responder is consulted
// only for the two AUTO_* policies and may be nil otherwise.
func Select(ctx context.Context, policy Policy, in Input, responder AutoResponder) (string, error) {
	switch policy {
	case PolicyNone, "":
		return "", nil

	case PolicyAutoBeforeProcessing, PolicyAutoAfterProcessing:
		if responder == nil {
			return "", fmt.Errorf("response: policy %s requires an AutoResponder", policy)
		}
		return responder.Respond(ctx, in.Raw)

	case PolicySourceTransformed:
		return in.SourceTransformed, nil

	case PolicyPostprocessor:
		return in.PostprocessorStage, nil

	case PolicyDestinationsCompleted:
		return selectByPrecedence(in.Results), nil

	default:
		return "", fmt.Errorf("response: unknown policy %q", policy)
	}
}

// selectByPrecedence picks the result with the highest-precedence status,
// breaking ties by ascending metadata-id.
func selectByPrecedence(results []chain.Result) string {
	if len(results) == 0 {
		return ""
	}

	best := make([]chain.Result, len(results))
	copy(best, results)
	sort.SliceStable(best, func(i, j int) bool {
		pi, pj := precedence[best[i].Status], precedence[best[j].Status]
		if pi != pj {
			return pi > pj
		}
		return best[i].MetaDataID < best[j].MetaDataID
	})
	return best[0].Response
}
