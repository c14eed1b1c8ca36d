package browser

import "testing"

func TestCheck(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"http://localhost:8000/admin/", false},
		{"https://store.example.com/admin/", false},
		{"", true},
		{"localhost:8000", true},
		{"file:///etc/passwd", true},
		{"javascript:alert(1)", true},
		{"https://", true},
	}
	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			err := Check(tc.url)
			if (err != nil) != tc.wantErr {
				t.Errorf("Check(%q) error = %v, wantErr %v", tc.url, err, tc.wantErr)
			}
		})
	}
}

func TestOpenRejectsBadURL(t *testing.T) {
	if err := Open("file:///tmp/x"); err == nil {
		t.Error("expected Open to refuse a file URL")
	}
}
