package types

import (
	"encoding/json"
	"testing"
)

func TestScript_JSONRoundTrip(t *testing.T) {
	s := Script{Type: ScriptTypeP2PKH, Data: []byte{0x01, 0x02, 0x03}}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Script
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.Type != s.Type || string(back.Data) != string(s.Data) {
		t.Errorf("round trip mismatch: %+v != %+v", back, s)
	}
}

func TestScriptType_String(t *testing.T) {
	cases := map[ScriptType]string{
		ScriptTypeP2PKH: "P2PKH",
		ScriptTypeP2SH:  "P2SH",
		ScriptTypeHTLC:  "HTLC",
		ScriptTypeBurn:  "Burn",
		ScriptType(0xEE): "Unknown",
	}
	for st, want := range cases {
		if st.String() != want {
			t.Errorf("ScriptType(%#x).String() = %s, want %s", uint8(st), st.String(), want)
		}
	}
}
