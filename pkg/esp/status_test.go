package esp

import (
	"strings"
	"testing"
)

const page = "<html><body><h3>Garden sensor</h3><div1><h3>Status</h3>\r\n" +
	"-----> DeCo-ESP V2.4.1 (build 17)<br>\r\n" +
	"Hostname: esp-garden<br>\r\n" +
	"IP: 192.168.2.41<br>\r\n" +
	"Temperature: 21.5 &deg;C<br>\r\n" +
	"</div1><p>Footer: ignored</p></body></html>"

func TestParse(t *testing.T) {
	facts := Parse(strings.NewReader(page))

	want := map[string]string{
		"Version":     "V2.4.1",
		"Hostname":    "esp-garden",
		"IP":          "192.168.2.41",
		"Temperature": "21.5 °C",
	}
	for k, v := range want {
		if facts[k] != v {
			t.Errorf("%s = %q, want %q", k, facts[k], v)
		}
	}
	if _, ok := facts["Footer"]; ok {
		t.Error("content after </div1> must be ignored")
	}
}

func TestParseDefaultsHostname(t *testing.T) {
	facts := Parse(strings.NewReader("<div1>Uptime: 12h</div1>"))
	if facts["Hostname"] != DefaultHostname {
		t.Errorf("Hostname = %q, want %q", facts["Hostname"], DefaultHostname)
	}
	if facts["Uptime"] != "12h" {
		t.Errorf("Uptime = %q", facts["Uptime"])
	}
}

func TestParseWithoutStatusElement(t *testing.T) {
	facts := Parse(strings.NewReader("<html><body>Hostname: nope</body></html>"))
	if len(facts) != 1 || facts["Hostname"] != DefaultHostname {
		t.Errorf("unexpected facts %v", facts)
	}
}
