// Package useragent derives browser, OS and device family from a User-Agent
// header using the uap-core regex corpus.
package useragent

import (
	"sync"

	"github.com/ua-parser/uap-go/uaparser"

	"aicaptcha/internal/models"
)

// UnknownFamily is reported by uap-core when nothing matches.
const UnknownFamily = "Other"

var (
	parser     *uaparser.Parser
	parserOnce sync.Once
)

func shared() *uaparser.Parser {
	parserOnce.Do(func() {
		parser = uaparser.NewFromSaved()
	})
	return parser
}

// Parse summarizes a raw User-Agent string. An empty string yields the
// "Other" families.
func Parse(ua string) models.UserAgentSummary {
	c := shared().Parse(ua)

	s := models.UserAgentSummary{
		Browser: UnknownFamily,
		OS:      UnknownFamily,
		Device:  UnknownFamily,
	}
	if c.UserAgent != nil {
		s.Browser = c.UserAgent.Family
		s.BrowserVersion = c.UserAgent.ToVersionString()
	}
	if c.Os != nil {
		s.OS = c.Os.Family
		s.OSVersion = c.Os.ToVersionString()
	}
	if c.Device != nil && c.Device.Family != "" {
		s.Device = c.Device.Family
	}
	return s
}
