// Package client is a Go client for the read-only HTTP API exposed by
// `linechain serve`.
//
// # Verifying a served chain
//
//	c, err := client.New("http://chains.internal:8080",
//	    client.WithTimeout(time.Minute),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rep, err := c.Verify(ctx, "evidence", true)
//	if err != nil {
//	    log.Fatal(err) // no verdict was produced
//	}
//	if rep.Verdict == client.VerdictTampered {
//	    fmt.Printf("%s at index %d\n", rep.Kind, *rep.Index)
//	}
//
// Every verdict, including TAMPERED, is a successful call. Errors are
// reserved for transport failures, unknown chains (ErrNotFound) and server
// side failures, which are returned as *APIError carrying the status and
// the machine readable code, e.g. "algorithm_mismatch".
//
// # Reading records
//
//	page, _ := c.Records(ctx, "evidence", 0, 100)
//	for _, r := range page.Records {
//	    fmt.Println(r.Index, r.ChainDigest)
//	}
package client
