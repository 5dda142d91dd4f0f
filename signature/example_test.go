package signature_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/ipflow/relay/signature"
)

// A receiver checks X-Webhook-Signature against the raw request body
// before trusting anything in it.
func ExampleVerify() {
	secret := signature.GenerateSecret()

	receiver := func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil || !signature.Verify(body, r.Header.Get(signature.HeaderSignature), secret) {
			http.Error(w, "bad signature", http.StatusUnauthorized)
			return
		}
		fmt.Println("accepted", r.Header.Get(signature.HeaderEvent))
	}

	body := `{"event":"case.created","timestamp":"2026-01-01T00:00:00.000Z","data":{},"tenantId":"acme"}`
	for _, key := range []string{secret, "whsec_wrong"} {
		req := httptest.NewRequest(http.MethodPost, "/hooks", strings.NewReader(body))
		req.Header.Set(signature.HeaderSignature, signature.Sign([]byte(body), key))
		req.Header.Set(signature.HeaderEvent, "case.created")

		rec := httptest.NewRecorder()
		receiver(rec, req)
		fmt.Println(rec.Code)
	}
	// Output:
	// accepted case.created
	// 200
	// 401
}
