package resourceserver

import (
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"github.com/x402-protocol/core/pkg/x402"
)

// isBrowserRequest reports whether r looks like a browser navigation rather
// than a programmatic client, grounding the §4.6 step 4 paywall-vs-JSON
// branch: a browser gets the rendered HTML page, a JSON/SDK client gets the
// bare 402 body.
func isBrowserRequest(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	userAgent := r.Header.Get("User-Agent")
	return strings.Contains(accept, "text/html") && strings.Contains(userAgent, "Mozilla")
}

var paywallTemplate = template.Must(template.New("paywall").Parse(`<!DOCTYPE html>
<html>
<head><title>Payment Required</title></head>
<body>
<h1>Payment Required</h1>
<p>{{.Description}}</p>
<ul>
{{range .Accepts}}<li>{{.Network}} / {{.Scheme}}: {{.Amount}} of {{.Asset}} to {{.PayTo}}</li>
{{end}}
</ul>
</body>
</html>
`))

type paywallView struct {
	Description string
	Accepts     []x402.PaymentRequirements
}

// renderPaywall writes a minimal human-readable HTML paywall page describing
// required.Accepts. Deployments that want a richer UI supply their own
// renderer; this one exists so a bare resource server never shows a browser
// visitor a content-less JSON blob.
func renderPaywall(w http.ResponseWriter, required x402.PaymentRequired) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusPaymentRequired)
	desc := humanizeReason(x402.InvalidReason(required.Error))
	if desc == "" && len(required.Accepts) > 0 {
		desc = required.Accepts[0].Description
	}
	if desc == "" {
		desc = "This resource requires payment."
	}
	_ = paywallTemplate.Execute(w, paywallView{Description: desc, Accepts: required.Accepts})
}

// humanizeReason turns a wire-level InvalidReason tag into a short sentence
// for the paywall page's error line (§7: "Paywalled browsers see a rendered
// page with a humanized version of the tag").
func humanizeReason(reason x402.InvalidReason) string {
	if reason == "" {
		return ""
	}
	words := strings.ReplaceAll(string(reason), "_", " ")
	return fmt.Sprintf("Payment could not be completed: %s.", words)
}
