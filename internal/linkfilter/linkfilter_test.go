package linkfilter

import "testing"

func TestShouldReject(t *testing.T) {
	f := New()
	tests := []struct {
		name   string
		url    string
		reject bool
	}{
		{"normal page", "https://acmepharma.com/pipeline/cdk12", false},
		{"social media", "https://twitter.com/acmepharma", true},
		{"social media subdomain", "https://www.linkedin.com/company/acme", true},
		{"search engine", "https://www.google.com/search?q=cdk12", true},
		{"aggregator", "https://en.wikipedia.org/wiki/CDK12", true},
		{"login path", "https://acmepharma.com/login", true},
		{"privacy path", "https://acmepharma.com/legal/privacy", true},
		{"search results path", "https://acmepharma.com/search?q=x", true},
		{"archive extension", "https://acmepharma.com/data.zip", true},
		{"image extension", "https://acmepharma.com/logo.PNG", true},
		{"pdf is allowed", "https://acmepharma.com/poster.pdf", false},
		{"malformed", "://not-a-url", true},
		{"no host", "/relative/path", true},
		{"non-http scheme", "ftp://acmepharma.com/file", true},
		{"domain suffix is not substring match", "https://notgoogle.company.com/x", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.ShouldReject(tt.url); got != tt.reject {
				t.Errorf("ShouldReject(%q) = %v, want %v", tt.url, got, tt.reject)
			}
		})
	}
}

func TestExtraDomains(t *testing.T) {
	f := New("pharma-forum.example")
	if !f.ShouldReject("https://pharma-forum.example/thread/1") {
		t.Error("extra blocked domain not rejected")
	}
	if !f.ShouldReject("https://sub.pharma-forum.example/x") {
		t.Error("extra blocked subdomain not rejected")
	}
}

func TestQueuePressure(t *testing.T) {
	tests := []struct {
		size int
		want float64
	}{
		{0, 0},
		{50, 0.5},
		{100, 1.0},
		{250, 1.0},
	}
	for _, tt := range tests {
		if got := QueuePressure(tt.size); got != tt.want {
			t.Errorf("QueuePressure(%d) = %v, want %v", tt.size, got, tt.want)
		}
	}
}

func TestDomain(t *testing.T) {
	if got := Domain("https://Sub.Example.COM:8080/p"); got != "sub.example.com" {
		t.Errorf("Domain = %q", got)
	}
	if got := Domain("://bad"); got != "" {
		t.Errorf("Domain on malformed = %q, want empty", got)
	}
}
