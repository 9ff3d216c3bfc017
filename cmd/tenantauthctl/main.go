package main

import "github.com/goliatone/go-tenant-auth/cmd/tenantauthctl/cmd"

func main() {
	cmd.Execute()
}
