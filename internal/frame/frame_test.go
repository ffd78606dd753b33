package frame

import "testing"

func TestEncode(t *testing.T) {
	tests := []struct {
		t       Type
		name    string
		payload string
		expect  string
	}{
		{Subscribe, "chat", "", "sub,chat"},
		{Unsubscribe, "chat", "", "uns,chat"},
		{Message, "chat", "hello", "msg,chat,hello"},
		{Message, "chat", "hello,world", "msg,chat,hello,world"},
		{Message, "chat", "", "msg,chat,"},
	}

	for _, tt := range tests {
		if got := Encode(tt.t, tt.name, tt.payload); got != tt.expect {
			t.Errorf("Encode(%s, %q, %q): expected %q, got %q", tt.t, tt.name, tt.payload, tt.expect, got)
		}
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		raw    string
		ok     bool
		expect Frame
	}{
		{"sub,chat", true, Frame{Type: Subscribe, Name: "chat"}},
		{"uns,chat", true, Frame{Type: Unsubscribe, Name: "chat"}},
		{"msg,chat,hello,world", true, Frame{Type: Message, Name: "chat", Payload: "hello,world"}},
		{"msg,chat,", true, Frame{Type: Message, Name: "chat"}},
		{"zzz,chat,x", true, Frame{Type: "zzz", Name: "chat", Payload: "x"}},
		{"msg", false, Frame{}},
		{"", false, Frame{}},
		{"msg,,payload", false, Frame{}},
	}

	for _, tt := range tests {
		got, ok := Decode(tt.raw)
		if ok != tt.ok {
			t.Errorf("Decode(%q): expected ok=%v, got %v", tt.raw, tt.ok, ok)
			continue
		}
		if got != tt.expect {
			t.Errorf("Decode(%q): expected %+v, got %+v", tt.raw, tt.expect, got)
		}
	}
}

func TestRoundTripKeepsCommasInPayload(t *testing.T) {
	payloads := []string{"", "a", "a,b", ",,,", "{\"k\":[1,2,3]}", "trailing,"}
	for _, p := range payloads {
		for _, typ := range []Type{Subscribe, Unsubscribe, Message} {
			f, ok := Decode(Encode(typ, "room", p))
			if !ok {
				t.Fatalf("round trip of %q lost the frame", p)
			}
			if f.Type != typ || f.Name != "room" || f.Payload != p {
				t.Errorf("round trip of (%s, %q): got %+v", typ, p, f)
			}
		}
	}
}

func TestUnknownTypeString(t *testing.T) {
	if Type("zzz").Known() {
		t.Fatal("zzz must not be a known frame type")
	}
	if Message.String() != "MESSAGE" {
		t.Errorf("unexpected name %s", Message.String())
	}
}

func TestEscapeName(t *testing.T) {
	topics := []string{"chat", "a,b", "with space", "100%", "a/b?c=d"}
	for _, topic := range topics {
		name := EscapeName(topic)
		for _, r := range name {
			if r == ',' {
				t.Fatalf("EscapeName(%q) = %q still contains the separator", topic, name)
			}
		}
		if back := UnescapeName(name); back != topic {
			t.Errorf("UnescapeName(EscapeName(%q)) = %q", topic, back)
		}
	}
	if EscapeName("chat") != "chat" {
		t.Errorf("plain names must not change")
	}
}
