package stratum

import (
	"encoding/binary"
	"testing"

	"github.com/bardlex/gominer/internal/pow"
)

func TestRequestWireFormat(t *testing.T) {
	tests := []struct {
		name string
		msg  *Message
		want string
	}{
		{
			name: "subscribe",
			msg:  NewSubscribeRequest("kuzadesign-miner/1.0"),
			want: `{"id":1,"method":"mining.subscribe","params":["kuzadesign-miner/1.0"]}`,
		},
		{
			name: "authorize",
			msg:  NewAuthorizeRequest("wallet.rig", "x"),
			want: `{"id":1,"method":"mining.authorize","params":["wallet.rig","x"]}`,
		},
		{
			name: "submit",
			msg:  NewSubmitRequest("job-9", pow.EncodeNonce(1_000_000_123)),
			want: `{"id":4,"method":"mining.submit","params":["generic","job-9","000000003b9acb7b"]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := MarshalMessage(tt.msg)
			if err != nil {
				t.Fatalf("MarshalMessage() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("got  %s\nwant %s", got, tt.want)
			}
		})
	}
}

func TestParseMessage(t *testing.T) {
	tests := []struct {
		name         string
		line         string
		wantErr      bool
		notification bool
		response     bool
		errMessage   string
	}{
		{"notify", `{"id":null,"method":"mining.notify","params":["j",[1,2],3]}`, false, true, false, ""},
		{"result true", `{"id":4,"result":true,"error":null}`, false, false, true, ""},
		{"result false", `{"id":4,"result":false}`, false, false, true, ""},
		{"error object", `{"id":4,"result":null,"error":{"code":23,"message":"Low difficulty"}}`, false, false, true, "Low difficulty"},
		{"error array", `{"id":4,"result":null,"error":[21,"Job not found",null]}`, false, false, true, "Job not found"},
		{"error string", `{"id":4,"error":"stale"}`, false, false, true, "stale"},
		{"null result", `{"id":2,"result":null,"error":null}`, false, false, false, ""},
		{"garbage", `{not json`, true, false, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ParseMessage([]byte(tt.line))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if msg.IsNotification() != tt.notification {
				t.Errorf("IsNotification() = %v", msg.IsNotification())
			}
			if msg.IsResponse() != tt.response {
				t.Errorf("IsResponse() = %v", msg.IsResponse())
			}
			if tt.errMessage != "" && (msg.Error == nil || msg.Error.Message != tt.errMessage) {
				t.Errorf("Error = %+v, want message %q", msg.Error, tt.errMessage)
			}
		})
	}
}

func TestParseNotify_HeaderForms(t *testing.T) {
	hexHeader := "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

	msg, err := ParseMessage([]byte(`{"method":"mining.notify","params":["w1",[18446744073709551615,"2",3],1700000000]}`))
	if err != nil {
		t.Fatal(err)
	}
	job, err := ParseNotify(msg.Params, SessionParams{})
	if err != nil {
		t.Fatalf("ParseNotify(words) error = %v", err)
	}
	if got := binary.LittleEndian.Uint64(job.Header[0:]); got != ^uint64(0) {
		t.Errorf("word 0 = %d, want max uint64", got)
	}
	if got := binary.LittleEndian.Uint64(job.Header[8:]); got != 2 {
		t.Errorf("word 1 = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint64(job.Header[16:]); got != 3 {
		t.Errorf("word 2 = %d, want 3", got)
	}
	if got := binary.LittleEndian.Uint64(job.Header[24:]); got != 0 {
		t.Errorf("word 3 = %d, want 0 padding", got)
	}
	if job.Timestamp != 1700000000 || !job.CleanJobs || job.ID != "w1" {
		t.Errorf("job = %+v", job)
	}

	job, err = ParseNotify([]any{"h1", hexHeader, "42"}, SessionParams{ExtraNonce1: []byte{1, 2}, ExtraNonce2Size: 4})
	if err != nil {
		t.Fatalf("ParseNotify(hex) error = %v", err)
	}
	for i := 0; i < HeaderSize; i++ {
		if job.Header[i] != byte(i) {
			t.Fatalf("header[%d] = %d", i, job.Header[i])
		}
	}
	if job.Timestamp != 42 || job.ExtraNonce2Size != 4 || len(job.ExtraNonce1) != 2 {
		t.Errorf("job = %+v", job)
	}

	short, err := ParseNotify([]any{"s", "abcd", 1.0}, SessionParams{})
	if err != nil {
		t.Fatalf("ParseNotify(short) error = %v", err)
	}
	if short.Header[0] != 0xab || short.Header[1] != 0xcd || short.Header[2] != 0 {
		t.Errorf("short header not zero padded: %x", short.Header)
	}

	long, err := ParseNotify([]any{"l", hexHeader + "ffff", 1.0}, SessionParams{})
	if err != nil {
		t.Fatalf("ParseNotify(long) error = %v", err)
	}
	if long.Header[31] != 0x1f {
		t.Errorf("long header not truncated: %x", long.Header)
	}

	words, err := ParseNotify([]any{"x", []any{1.0, 2.0, 3.0, 4.0, 5.0}, 7.0}, SessionParams{})
	if err != nil {
		t.Fatalf("ParseNotify(5 words) error = %v", err)
	}
	if binary.LittleEndian.Uint64(words.Header[24:]) != 4 {
		t.Error("only the first four words are used")
	}
}

func TestParseNotify_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		params []any
	}{
		{"too few params", []any{"j", "00"}},
		{"non-string id", []any{1.0, "00", 1.0}},
		{"bad hex", []any{"j", "zz", 1.0}},
		{"odd hex", []any{"j", "abc", 1.0}},
		{"bad header type", []any{"j", true, 1.0}},
		{"bad word", []any{"j", []any{"nope"}, 1.0}},
		{"bad timestamp", []any{"j", "00", "soon"}},
		{"negative timestamp", []any{"j", "00", -1.0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseNotify(tt.params, SessionParams{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseSubscribeResult(t *testing.T) {
	msg, err := ParseMessage([]byte(`{"id":1,"result":[[["mining.notify","sub1"]],"08000002",4],"error":null}`))
	if err != nil {
		t.Fatal(err)
	}
	params, ok := ParseSubscribeResult(msg.Result.([]any))
	if !ok {
		t.Fatal("ParseSubscribeResult() failed")
	}
	if params.ExtraNonce2Size != 4 || pow.BytesToHex(params.ExtraNonce1) != "08000002" {
		t.Errorf("params = %+v", params)
	}

	if _, ok := ParseSubscribeResult([]any{"x"}); ok {
		t.Error("short result should not parse")
	}
}

func TestParseSetDifficulty(t *testing.T) {
	msg, _ := ParseMessage([]byte(`{"method":"mining.set_difficulty","params":[512]}`))
	d, err := ParseSetDifficulty(msg.Params)
	if err != nil || d != 512 {
		t.Errorf("ParseSetDifficulty() = %v, %v", d, err)
	}
	if _, err := ParseSetDifficulty(nil); err == nil {
		t.Error("expected error for empty params")
	}
	if _, err := ParseSetDifficulty([]any{true}); err == nil {
		t.Error("expected error for bool")
	}
}

func TestParseSubmitRequest(t *testing.T) {
	p, err := ParseSubmitRequest([]any{"generic", "j1", "00000000000000ff"})
	if err != nil || p.JobID != "j1" || p.Nonce != "00000000000000ff" {
		t.Errorf("ParseSubmitRequest() = %+v, %v", p, err)
	}
	if _, err := ParseSubmitRequest([]any{"generic", "j1", "ff"}); err == nil {
		t.Error("short nonce should fail")
	}
}

func TestJobClone(t *testing.T) {
	j := &Job{ID: "a", ExtraNonce1: []byte{1}}
	c := j.Clone()
	c.ExtraNonce1[0] = 9
	c.ID = "b"
	if j.ExtraNonce1[0] != 1 || j.ID != "a" {
		t.Error("Clone shares state with original")
	}
	if (*Job)(nil).Clone() != nil {
		t.Error("Clone(nil) should be nil")
	}
}
