package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"log"

	"github.com/golang/glog"

	"github.com/robotalks/sbclink/pkg/env"
	fx "github.com/robotalks/sbclink/pkg/framework"
	"github.com/robotalks/sbclink/pkg/sbc/dispatch"
	"github.com/robotalks/sbclink/pkg/sbc/transport"
	"github.com/robotalks/sbclink/pkg/sim"
)

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := env.NewConfig().MustPrepare()
	ctl := sim.New()

	serve := func(ctx context.Context, conn *env.Conn) error {
		link := conf.NewLink(conn, transport.RoleFirmware)
		fw := dispatch.NewFirmware(link)
		ctl.Attach(fw)
		link.Handler, link.Notifier, link.Poller = fw, fw, fw
		return link.Run(ctx)
	}

	runner := fx.NewRunner().HandleSignals()
	runner.Go(ctl, fx.NamedRun("link", fx.RunnableFunc(func(ctx context.Context) error {
		return conf.Serve(ctx, serve)
	})))
	if err := runner.Wait(); err != nil {
		log.Fatalln(err)
	}
}
