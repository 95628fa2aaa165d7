package rules

import "sitewatch/internal/domain"

// DefaultImpact is used for finding types without a dedicated sentence.
const DefaultImpact = "This technical issue may affect user experience or site accessibility."

var impacts = map[string]string{
	TypeDNSResolutionFailed: "Customers cannot access your website because the domain is not reachable.",
	TypeTimeout:             "Customers cannot load your site because the server is taking too long to respond.",
	TypeUnreachable:         "Your website is not responding, which prevents customers from visiting your site.",
	TypeServerError:         "The server is failing to process requests, preventing users from accessing your site.",
	TypeClientError:         "Visitors may see an error page instead of your intended content.",
	TypeNoSSL:               "Browsers may show security warnings, which can reduce user trust.",
	TypeSlowPerformance:     "Slow loading times may cause visitors to leave before interacting.",
	TypeNoViewportMeta:      "Mobile users may experience layout issues requiring zoom and manual adjustment.",
}

// Impact returns one business-impact sentence per finding, in the same order.
func Impact(findings []domain.Finding) []string {
	out := make([]string, len(findings))
	for i, f := range findings {
		if s, ok := impacts[f.Type]; ok {
			out[i] = s
			continue
		}
		out[i] = DefaultImpact
	}
	return out
}
