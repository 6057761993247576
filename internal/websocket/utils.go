package websocket

import (
	"encoding/json"

	"github.com/stemsi/trivia-engine/internal/model"
	"github.com/stemsi/trivia-engine/internal/response"
	"github.com/stemsi/trivia-engine/internal/validator"
)

// Encode marshals an outbound frame.
func Encode(event Event, data any) ([]byte, error) {
	return json.Marshal(Message{Event: event, Data: data})
}

// Ack builds the acknowledgement for a handled request.
func Ack(req RequestEnvelope, result any) Message {
	return Message{Event: EventAck, Data: AckData{
		Action:    req.Action,
		RequestID: req.RequestID,
		Result:    result,
	}}
}

// ErrorFor maps err to an error frame. Domain errors keep their text; anything
// else is reported as an internal error.
func ErrorFor(req RequestEnvelope, err error) Message {
	_, code := response.Classify(err)
	msg := response.GetMessage(code)
	if code != response.ErrInternal {
		msg = err.Error()
	}
	return Message{Event: EventError, Data: ErrorData{
		Action:    req.Action,
		RequestID: req.RequestID,
		Code:      code,
		Message:   msg,
		Fields:    response.ValidationFields(err),
	}}
}

// ErrorCode builds an error frame carrying only a code.
func ErrorCode(req RequestEnvelope, code response.ErrCode) Message {
	return Message{Event: EventError, Data: ErrorData{
		Action:    req.Action,
		RequestID: req.RequestID,
		Code:      code,
		Message:   response.GetMessage(code),
	}}
}

// DecodeData unmarshals req.Data into v and validates its binding tags.
func DecodeData(req RequestEnvelope, v any) error {
	if len(req.Data) == 0 {
		return errPayloadMissing
	}
	if err := json.Unmarshal(req.Data, v); err != nil {
		return errPayloadInvalid
	}
	if fields := validator.Struct(v); len(fields) > 0 {
		return &model.ValidationError{Fields: fields}
	}
	return nil
}

var (
	errPayloadMissing = model.NewValidationError("data", "is required")
	errPayloadInvalid = model.NewValidationError("data", "is not valid JSON")
)
