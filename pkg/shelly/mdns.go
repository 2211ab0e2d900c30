package shelly

import (
	"regexp"
	"strconv"
	"strings"
)

const MDNS_SHELLIES string = "_shelly._tcp."

const MDNS_HTTP string = "_http._tcp."

var generationRe = regexp.MustCompile("^gen=(?P<generation>[0-9]+)$")

var applicationRe = regexp.MustCompile("^app=(?P<application>[a-zA-Z0-9]+)$")

var versionRe = regexp.MustCompile("^ver=(?P<version>[.0-9a-zA-Z_-]+)$")

// TXT holds what a Shelly advertises in its DNS-SD TXT records.
type TXT struct {
	Generation  int
	Application string
	Version     string
}

func ParseTXT(records []string) TXT {
	var t TXT
	for _, txt := range records {
		switch {
		case generationRe.MatchString(txt):
			t.Generation, _ = strconv.Atoi(generationRe.ReplaceAllString(txt, "${generation}"))
		case applicationRe.MatchString(txt):
			t.Application = applicationRe.ReplaceAllString(txt, "${application}")
		case versionRe.MatchString(txt):
			t.Version = versionRe.ReplaceAllString(txt, "${version}")
		}
	}
	return t
}

// IsShellyName tells whether an mDNS instance or host name looks like a Shelly one.
func IsShellyName(name string) bool {
	return strings.Contains(strings.ToLower(name), "shelly")
}
