package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/h1v3-io/agora/pkg/protocol"
)

const (
	maxNameLen        = 50
	maxModelLen       = 50
	maxInstructionLen = 200

	// maxTimeLimitSeconds is the largest value that still fits a
	// time.Duration. The service enforces the real upper bound.
	maxTimeLimitSeconds = math.MaxInt64 / int64(time.Second)
)

type metadataDTO struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type problemDTO struct {
	Statement  string        `json:"statement"`
	Context    string        `json:"context,omitempty"`
	ContextURL string        `json:"context_url,omitempty"`
	Metadata   []metadataDTO `json:"metadata,omitempty"`
}

type evaluationDTO struct {
	GroundTruth string        `json:"ground_truth,omitempty"`
	Query       string        `json:"query"`
	Response    string        `json:"response"`
	Criteria    string        `json:"criteria"`
	Metadata    []metadataDTO `json:"metadata,omitempty"`
}

type attendeeDTO struct {
	Name        string `json:"name,omitempty"`
	Model       string `json:"model,omitempty"`
	Instruction string `json:"instruction,omitempty"`
}

type optionsDTO struct {
	NumberOfAttendees *int          `json:"number_of_attendees,omitempty"`
	TimeLimitSeconds  *int          `json:"time_limit_seconds,omitempty"`
	AttendeeOptions   []attendeeDTO `json:"attendee_options,omitempty"`
}

type solveRequest struct {
	Problem *problemDTO `json:"problem"`
	Options *optionsDTO `json:"options,omitempty"`
}

type evaluationRequest struct {
	Problem *evaluationDTO `json:"problem"`
	Options *optionsDTO    `json:"options,omitempty"`
}

type deliverableResponse struct {
	ID       string        `json:"id"`
	Items    []string      `json:"items"`
	Metadata []metadataDTO `json:"metadata,omitempty"`
}

type eventResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Name      string    `json:"name"`
	Message   string    `json:"message"`
}

func (p *problemDTO) validate() error {
	if strings.TrimSpace(p.Statement) == "" {
		return errors.New("problem.statement is required")
	}
	return validateMetadata(p.Metadata)
}

func (p *problemDTO) toProblem() protocol.Problem {
	return protocol.Problem{
		Statement: p.Statement,
		Context:   p.Context,
		Metadata:  toMetadata(p.Metadata),
	}
}

func (e *evaluationDTO) validate() error {
	var errs []error
	if strings.TrimSpace(e.Query) == "" {
		errs = append(errs, errors.New("problem.query is required"))
	}
	if strings.TrimSpace(e.Response) == "" {
		errs = append(errs, errors.New("problem.response is required"))
	}
	if strings.TrimSpace(e.Criteria) == "" {
		errs = append(errs, errors.New("problem.criteria is required"))
	}
	if err := validateMetadata(e.Metadata); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *evaluationDTO) toEvaluation() protocol.Evaluation {
	return protocol.Evaluation{
		GroundTruth: e.GroundTruth,
		Query:       e.Query,
		Response:    e.Response,
		Criteria:    e.Criteria,
	}
}

// toOptions validates the options. number_of_attendees, when present,
// seats that many default attendees and ignores attendee_options. Either
// way no more than maxAttendees are seated.
func (o *optionsDTO) toOptions(allowedModels []string, maxAttendees int) (protocol.SolveOptions, error) {
	var opts protocol.SolveOptions
	if o == nil {
		return opts, nil
	}

	if o.TimeLimitSeconds != nil {
		if *o.TimeLimitSeconds < 1 {
			return opts, errors.New("options.time_limit_seconds must be at least 1")
		}
		if int64(*o.TimeLimitSeconds) > maxTimeLimitSeconds {
			return opts, errors.New("options.time_limit_seconds is out of range")
		}
		opts.TimeLimit = time.Duration(*o.TimeLimitSeconds) * time.Second
	}

	if o.NumberOfAttendees != nil {
		if *o.NumberOfAttendees < 1 {
			return opts, errors.New("options.number_of_attendees must be at least 1")
		}
		if *o.NumberOfAttendees > maxAttendees {
			return opts, fmt.Errorf("options.number_of_attendees must be at most %d", maxAttendees)
		}
		opts.Attendees = make([]protocol.AttendeeOptions, *o.NumberOfAttendees)
		return opts, nil
	}

	if len(o.AttendeeOptions) > maxAttendees {
		return opts, fmt.Errorf("options.attendee_options must have at most %d entries", maxAttendees)
	}
	var errs []error
	for i, a := range o.AttendeeOptions {
		if utf8.RuneCountInString(a.Name) > maxNameLen {
			errs = append(errs, fmt.Errorf("options.attendee_options[%d].name exceeds %d characters", i, maxNameLen))
		}
		if utf8.RuneCountInString(a.Model) > maxModelLen {
			errs = append(errs, fmt.Errorf("options.attendee_options[%d].model exceeds %d characters", i, maxModelLen))
		} else if a.Model != "" && len(allowedModels) > 0 && !slices.Contains(allowedModels, a.Model) {
			errs = append(errs, fmt.Errorf("options.attendee_options[%d].model %q is not allowed", i, a.Model))
		}
		if utf8.RuneCountInString(a.Instruction) > maxInstructionLen {
			errs = append(errs, fmt.Errorf("options.attendee_options[%d].instruction exceeds %d characters", i, maxInstructionLen))
		}
		opts.Attendees = append(opts.Attendees, protocol.AttendeeOptions{
			Name:        a.Name,
			Model:       a.Model,
			Instruction: a.Instruction,
		})
	}
	if err := errors.Join(errs...); err != nil {
		return protocol.SolveOptions{}, err
	}
	return opts, nil
}

func validateMetadata(md []metadataDTO) error {
	for i, m := range md {
		if strings.TrimSpace(m.Key) == "" {
			return fmt.Errorf("metadata[%d].key is required", i)
		}
	}
	return nil
}

func toMetadata(md []metadataDTO) []protocol.Metadata {
	if len(md) == 0 {
		return nil
	}
	out := make([]protocol.Metadata, len(md))
	for i, m := range md {
		out[i] = protocol.Metadata{Key: m.Key, Value: m.Value}
	}
	return out
}

// toDeliverableResponse renders each item as its own JSON document.
func toDeliverableResponse[T any](d *protocol.Deliverable[T]) (deliverableResponse, error) {
	resp := deliverableResponse{ID: d.ID, Items: make([]string, 0, len(d.Items))}
	for _, item := range d.Items {
		b, err := json.Marshal(item)
		if err != nil {
			return deliverableResponse{}, fmt.Errorf("api: encode item: %w", err)
		}
		resp.Items = append(resp.Items, string(b))
	}
	for _, m := range d.Metadata {
		resp.Metadata = append(resp.Metadata, metadataDTO{Key: m.Key, Value: m.Value})
	}
	return resp, nil
}

// toEventResponse renders the event properties as a JSON object string.
func toEventResponse(ev protocol.RoomEvent) eventResponse {
	props := ev.Properties
	if props == nil {
		props = map[string]string{}
	}
	msg, _ := json.Marshal(props)
	return eventResponse{Timestamp: ev.Timestamp, Name: string(ev.Kind), Message: string(msg)}
}
