package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/tachyon/internal/core/models"
)

func TestDecode(t *testing.T) {
	msg, err := Decode([]byte(`{"Code":"SocketReadyClient","OriginSocketID":7}`))
	require.NoError(t, err)
	assert.Equal(t, CodeSocketReadyClient, msg.Code)
	assert.Equal(t, models.SocketID(7), msg.OriginSocketID)
}

func TestDecode_Invalid(t *testing.T) {
	cases := map[string]string{
		"garbage":         `not json`,
		"empty":           ``,
		"null":            `null`,
		"array":           `[1,2,3]`,
		"truncated":       `{"Code":"Problem"`,
		"negative origin": `{"Code":"Problem","OriginSocketID":-1}`,
		"wrong code type": `{"Code":5}`,
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(input))
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestNewMessage_MergesPayload(t *testing.T) {
	msg, err := NewMessage(CodeSocketHandshakeServer, 0, SocketHandshakeServerPayload{SocketID: 4, EntityViewID: 9})
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(msg.Bytes(), &fields))
	assert.Equal(t, "SocketHandshakeServer", fields["Code"])
	assert.EqualValues(t, 0, fields["OriginSocketID"])
	assert.EqualValues(t, 4, fields["SocketID"])
	assert.EqualValues(t, 9, fields["EntityViewID"])

	decoded, err := Decode(msg.Bytes())
	require.NoError(t, err)
	var payload SocketHandshakeServerPayload
	require.NoError(t, decoded.Payload(&payload))
	assert.Equal(t, models.SocketID(4), payload.SocketID)
	assert.Equal(t, models.ViewID(9), payload.EntityViewID)
}

func TestNewMessage_RejectsNonObjectPayload(t *testing.T) {
	_, err := NewMessage(Code("Custom"), 1, []int{1, 2})
	assert.ErrorIs(t, err, ErrEncode)
}

func TestMessage_PayloadMalformed(t *testing.T) {
	msg, err := Decode([]byte(`{"Code":"ComponentDeltaRequest","OriginSocketID":1,"EntityViewID":"x"}`))
	require.NoError(t, err)

	var payload ComponentDeltaPayload
	assert.ErrorIs(t, msg.Payload(&payload), ErrMalformedPayload)
}

func TestMessage_MarshalJSON(t *testing.T) {
	msg := &Message{Code: "Custom", OriginSocketID: 3}
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"Code":"Custom","OriginSocketID":3}`, string(data))
}

func TestCodes(t *testing.T) {
	for _, code := range BuiltinCodes() {
		assert.True(t, code.IsBuiltin(), code)
	}
	assert.Len(t, BuiltinCodes(), 10)
	assert.False(t, Code("Unregistered").IsBuiltin())
	assert.Equal(t, "ComponentDeltaRequest", CodeComponentDelta.String())
}

func TestProblemCode_Text(t *testing.T) {
	payload := ProblemPayload{ProblemCode: ProblemSocketIDMismatch, OffendingCode: CodeSocketReadyClient}
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ProblemCode":"SocketIDMismatch"`)

	var decoded ProblemPayload
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ProblemSocketIDMismatch, decoded.ProblemCode)

	var unknown ProblemCode
	assert.Error(t, unknown.UnmarshalText([]byte("Nope")))
	assert.Equal(t, "ProblemCode(99)", ProblemCode(99).String())
	assert.True(t, ProblemNone.IsNone())
}

func TestWrapUnwrapComponents(t *testing.T) {
	bag := models.Components{
		"Health":                     100,
		"Name":                       "crate",
		models.ViewComponentHandle:   models.ViewComponent{EntityViewID: 1},
		models.SocketComponentHandle: models.NewSocketComponent(1, nil),
	}

	wrappers := WrapComponents(bag)
	require.Len(t, wrappers, 2)
	assert.Equal(t, "Health", wrappers[0].TypeHandle)
	assert.Equal(t, "Name", wrappers[1].TypeHandle)

	unwrapped, err := UnwrapComponents(wrappers)
	require.NoError(t, err)
	assert.Equal(t, 2, unwrapped.Len())
}

func TestUnwrapComponents_Rejects(t *testing.T) {
	_, err := UnwrapComponents([]ComponentWrapper{{TypeHandle: "A"}, {TypeHandle: "A"}})
	assert.ErrorIs(t, err, models.ErrComponentExists)

	_, err = UnwrapComponents([]ComponentWrapper{{TypeHandle: models.ViewComponentHandle}})
	assert.ErrorIs(t, err, ErrReservedHandle)

	_, err = UnwrapComponents([]ComponentWrapper{{TypeHandle: ""}})
	assert.ErrorIs(t, err, ErrMalformedPayload)
}
