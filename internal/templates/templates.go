// Package templates generates the outbound deletion-request emails. The body
// is selected by legal framework and rendered with a simple placeholder
// substitution.
package templates

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Supported legal frameworks.
const (
	FrameworkGDPR     = "GDPR"
	FrameworkCCPA     = "CCPA"
	FrameworkCombined = "GDPR/CCPA"
)

// frameworkDeadlines holds the statutory response deadline in days.
var frameworkDeadlines = map[string]int{
	FrameworkGDPR:     30,
	FrameworkCCPA:     45,
	FrameworkCombined: 30,
}

const gdprBody = `Dear {{ broker_name }} Privacy Team,

I am formally requesting the complete deletion of all my personal data from your systems.

Under Article 17 of the GDPR, I have the right to request erasure of my personal data. Please delete all records associated with the email address {{ user_email }}, including any derived or inferred data, and confirm once the deletion is complete.

Please complete this request by {{ deadline }}.

If you require additional information to verify my identity, contact me at {{ user_email }}.

Regards,
{{ user_email }}
`

const ccpaBody = `Dear {{ broker_name }} Privacy Team,

I am formally requesting the complete deletion of all my personal data from your systems.

Under the CCPA, I have the right to request deletion of my personal information. Please delete all records associated with the email address {{ user_email }}, including any data sold or shared with third parties, and confirm once the deletion is complete.

Please complete this request by {{ deadline }}.

If you require additional information to verify my identity, contact me at {{ user_email }}.

Regards,
{{ user_email }}
`

const combinedBody = `Dear {{ broker_name }} Privacy Team,

I am formally requesting the complete deletion of all my personal data from your systems.

Under Article 17 of the GDPR and the CCPA, I have the right to request erasure of my personal data. Please delete all records associated with the email address {{ user_email }}, including any derived, inferred, sold, or shared data, and confirm once the deletion is complete.

Please complete this request by {{ deadline }}.

If you require additional information to verify my identity, contact me at {{ user_email }}.

Regards,
{{ user_email }}
`

var frameworkBodies = map[string]string{
	FrameworkGDPR:     gdprBody,
	FrameworkCCPA:     ccpaBody,
	FrameworkCombined: combinedBody,
}

// Generate builds the subject and body of a deletion-request email for the
// given legal framework. Unknown frameworks fall back to the combined
// GDPR/CCPA template.
func Generate(userEmail, brokerName, framework string) (subject, body string) {
	framework = strings.ToUpper(strings.TrimSpace(framework))
	if _, ok := frameworkBodies[framework]; !ok {
		if framework != "" {
			logrus.Warnf("Unknown legal framework %q, defaulting to %s", framework, FrameworkCombined)
		}
		framework = FrameworkCombined
	}

	subject = fmt.Sprintf("Data Deletion Request under %s", framework)

	deadline := time.Now().AddDate(0, 0, frameworkDeadlines[framework]).Format("January 2, 2006")
	body = render(frameworkBodies[framework], map[string]string{
		"user_email":  userEmail,
		"broker_name": brokerName,
		"deadline":    deadline,
	})
	return subject, body
}

// render substitutes {{ key }} placeholders in a template.
func render(template string, context map[string]string) string {
	pairs := make([]string, 0, len(context)*2)
	for key, value := range context {
		pairs = append(pairs, fmt.Sprintf("{{ %s }}", key), value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
