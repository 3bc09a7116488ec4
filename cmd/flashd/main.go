package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/flashd/internal/daemon"
	"github.com/matheus3301/flashd/internal/instance"
	"go.uber.org/fx"
)

func main() {
	instanceFlag := flag.String("instance", "", "instance name (overrides config default)")
	addrFlag := flag.String("addr", "", "HTTP listen address (overrides http.addr)")
	flag.Parse()

	name := instance.Resolve(*instanceFlag)
	if err := instance.ValidateName(name); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{InstanceName: name, HTTPAddr: *addrFlag}),
	)

	app.Run()
}
