package structured

import (
	"errors"
	"testing"

	brainErrors "github.com/harunnryd/brain/internal/errors"
)

type reply struct {
	Agent      string  `json:"agent"`
	Confidence float64 `json:"confidence"`
}

func TestDecodeObject(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantMode ParseMode
		want     reply
	}{
		{"plain", `{"agent":"campaign","confidence":0.9}`, ParseModeJSON, reply{"campaign", 0.9}},
		{"fenced", "```json\n{\"agent\":\"crm\",\"confidence\":0.7}\n```", ParseModeJSON, reply{"crm", 0.7}},
		{"prose around", `Sure! Here it is: {"agent":"list","confidence":0.5} hope that helps`, ParseModeExtracted, reply{"list", 0.5}},
		{"trailing comma", `{"agent":"message","confidence":0.8,}`, ParseModeRepaired, reply{"message", 0.8}},
		{"truncated", `{"agent":"research","confidence":0.6`, ParseModeRepaired, reply{"research", 0.6}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got reply
			mode, err := DecodeObject(tt.raw, &got)
			if err != nil {
				t.Fatalf("DecodeObject() error = %v", err)
			}
			if mode != tt.wantMode {
				t.Errorf("mode = %s, want %s", mode, tt.wantMode)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDecodeArrayFromProse(t *testing.T) {
	var got []reply
	if _, err := DecodeArray(`Entries: [{"agent":"a"},{"agent":"b"}]`, &got); err != nil {
		t.Fatalf("DecodeArray() error = %v", err)
	}
	if len(got) != 2 || got[1].Agent != "b" {
		t.Fatalf("got %+v", got)
	}
}

func TestDecodeRejectsNonJSON(t *testing.T) {
	var got reply
	_, err := DecodeObject("I cannot help with that.", &got)
	if !errors.Is(err, brainErrors.ErrInvalidModelOutput) {
		t.Fatalf("error = %v, want ErrInvalidModelOutput", err)
	}
	_, err = DecodeObject("   ", &got)
	if !errors.Is(err, brainErrors.ErrInvalidModelOutput) {
		t.Fatalf("error = %v, want ErrInvalidModelOutput", err)
	}
}

func TestClamp01(t *testing.T) {
	for in, want := range map[float64]float64{-1: 0, 0.4: 0.4, 7: 1} {
		if got := Clamp01(in); got != want {
			t.Errorf("Clamp01(%v) = %v, want %v", in, got, want)
		}
	}
}
