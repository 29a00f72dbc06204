package runner

import (
	"encoding/xml"
	"fmt"

	"github.com/ethereum-optimism/infra/op-regress/types"
)

type junitFailure struct {
	XMLName xml.Name `xml:"failure"`
	Message string   `xml:"message,attr"`
	Body    string   `xml:",chardata"`
}

type junitSkipped struct {
	XMLName xml.Name `xml:"skipped"`
	Message string   `xml:"message,attr,omitempty"`
}

type junitCase struct {
	XMLName   xml.Name      `xml:"testcase"`
	Name      string        `xml:"name,attr"`
	ClassName string        `xml:"classname,attr"`
	Time      string        `xml:"time,attr"`
	Failure   *junitFailure `xml:"failure,omitempty"`
	Skipped   *junitSkipped `xml:"skipped,omitempty"`
}

type junitSuite struct {
	XMLName  xml.Name    `xml:"testsuite"`
	Name     string      `xml:"name,attr"`
	Tests    int         `xml:"tests,attr"`
	Errors   int         `xml:"errors,attr"`
	Failures int         `xml:"failures,attr"`
	Skipped  int         `xml:"skipped,attr"`
	Time     string      `xml:"time,attr"`
	Cases    []junitCase `xml:"testcase"`
}

// buildJUnitFragment renders one test unit as a <testsuite> element. The
// aggregated report file concatenates these fragments verbatim.
func buildJUnitFragment(name string, outcome *types.TestOutcome, cases []caseResult) []byte {
	suite := junitSuite{
		Name: name,
		Time: fmt.Sprintf("%.3f", outcome.Duration.Seconds()),
	}

	if len(cases) == 0 {
		// No sub-cases: the unit itself is the single testcase.
		cases = []caseResult{{
			Name:     name,
			State:    outcome.State,
			Duration: outcome.Duration,
		}}
		if outcome.Err != nil {
			cases[0].Message = outcome.Err.Error()
		}
	}

	for _, cr := range cases {
		jc := junitCase{
			Name:      cr.Name,
			ClassName: name,
			Time:      fmt.Sprintf("%.3f", cr.Duration.Seconds()),
		}
		suite.Tests++
		switch cr.State {
		case types.StateFailed, types.StateTimeout:
			suite.Failures++
			jc.Failure = &junitFailure{Message: failureMessage(cr), Body: outcome.Output}
		case types.StateUncaughtException:
			suite.Errors++
			jc.Failure = &junitFailure{Message: failureMessage(cr), Body: outcome.Output}
		case types.StateSkipped, types.StateResourceDenied:
			suite.Skipped++
			jc.Skipped = &junitSkipped{Message: cr.Message}
		}
		suite.Cases = append(suite.Cases, jc)
	}

	data, err := xml.MarshalIndent(suite, "", "  ")
	if err != nil {
		return nil
	}
	return data
}

func failureMessage(cr caseResult) string {
	if cr.Message != "" {
		return cr.Message
	}
	return "test failed"
}
