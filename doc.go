// Package relay is the API gateway and webhook dispatcher behind the ipflow
// paralegal platform.
//
// The gateway half issues tenant API keys, authenticates them by hash,
// authorizes scopes with "*" and "group.*" wildcards, and enforces a
// per-key sliding one-hour request window. The dispatcher half fans a
// tenant event out to every subscribed webhook concurrently, signing one
// shared envelope per subscription with HMAC-SHA256, recording each
// attempt, and disabling subscriptions that keep failing.
//
// Quick start:
//
//	r, err := relay.New(
//	    relay.WithStore(memory.New()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	key, _ := r.IssueCredential(ctx, credential.Input{
//	    TenantID: "org_123",
//	    Name:     "intake",
//	    Scopes:   []string{"events.*"},
//	})
//
//	p, err := r.Authenticate(ctx, key.Key)
//	...
//	outcomes, err := r.Dispatch(ctx, p.TenantID, "case.created",
//	    map[string]any{"caseId": "case_01h..."})
package relay
