// Package fasjson provides the types, interfaces, and helpers for working
// with a FASJSON server through a client whose operations are discovered
// from the server's spec at runtime.
//
// # Overview
//
// The fasjson package defines the Client and Operation interfaces, the
// normalized Response, the error taxonomy, and the pluggable pieces of a
// client (credential provider, spec cache, interceptors, parameter
// formats). A concrete client is built by the fasjsonclient package.
//
// Getting a client
//
//	import (
//	  "context"
//	  "log"
//
//	  "github.com/fedora-infra/fasjson-client/pkg/fasjson"
//	  "github.com/fedora-infra/fasjson-client/pkg/fasjsonclient"
//	)
//
//	func example() {
//	  ctx := context.Background()
//	  cli, err := fasjsonclient.New(ctx, &fasjson.Config{URL: "https://fasjson.example.com"})
//	  if err != nil { log.Fatal(err) }
//
//	  resp, err := cli.Call(ctx, "get_user", fasjson.Args{"username": "admin"})
//	  if err != nil { log.Fatal(err) }
//	  log.Println(resp.Result())
//	}
//
// # Pagination
//
// A Response to a paginated list carries a Page. NextPage and PrevPage
// call the same operation again for the adjacent page. ListAllEntities
// walks a whole collection lazily:
//
//	it, err := cli.ListAllEntities(ctx, "users", 100)
//	if err != nil { log.Fatal(err) }
//	for it.HasNext() {
//	  user, err := it.Next()
//	  if err != nil { break }
//	  _ = user
//	}
//
// # Errors
//
// Every error returned by a client is one of ClientError (setup: spec or
// authentication problems), APIError (non-2xx answers), PaginationError,
// UnknownOperationError, or UsageError. All embed BaseError with a
// message, a code and a data payload. Setup errors match their reason
// with errors.Is, for example errors.Is(err, fasjson.ErrAuthenticationExpired).
//
// # Interceptors and caching
//
// Config.Interceptors runs request and response interceptors around every
// HTTP exchange. Config.SpecCache keeps the spec document between client
// instances, in memory or in a NATS key-value bucket, and revalidates it
// with its ETag.
package fasjson
