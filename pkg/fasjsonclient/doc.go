// Package fasjsonclient provides the primary entry point for constructing a
// FASJSON client that implements the fasjson.Client interface.
//
// It layers configuration, the authenticated HTTP transport and spec loading
// on top of the types defined in the fasjson package. The returned client
// exposes every operation the deployment's spec declares by name.
//
// Quick start
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
//
//	  // Default Kerberos identity from the credential cache.
//	  cli, err := fasjsonclient.NewWithURL(ctx, "https://fasjson.fedoraproject.org")
//	  if err != nil { log.Fatal(err) }
//
//	  // Or a specific principal and a keytab:
//	  cli, err = fasjsonclient.New(ctx, &fasjson.Config{
//	    URL:       "https://fasjson.fedoraproject.org",
//	    Principal: "bot@FEDORAPROJECT.ORG",
//	    Kerberos:  &fasjson.KerberosConfig{Keytab: "/etc/bot.keytab"},
//	  })
//	  if err != nil { log.Fatal(err) }
//
//	  me, err := cli.Call(ctx, "whoami", nil)
//	  if err != nil { log.Fatal(err) }
//	  log.Println(me.Result())
//
//	  users, err := cli.ListAllEntities(ctx, "users", 0)
//	  if err != nil { log.Fatal(err) }
//	  for user, err := range users.Seq() {
//	    if err != nil { log.Fatal(err) }
//	    log.Println(user)
//	  }
//	}
//
// # Helpers
//
// The package also provides convenience constructors NewWithURL,
// NewWithPrincipal and NewWithProvider that wrap New with the appropriate
// configuration. An empty URL selects the Fedora production deployment.
package fasjsonclient
