package main

//go-build: CGO_ENABLED=0

import (
	"context"
	"flag"
	"log"

	"github.com/golang/glog"

	"github.com/robotalks/sbclink/pkg/bridge/mqtt"
	"github.com/robotalks/sbclink/pkg/env"
	fx "github.com/robotalks/sbclink/pkg/framework"
	"github.com/robotalks/sbclink/pkg/sbc/dispatch"
	"github.com/robotalks/sbclink/pkg/sbc/msgs"
	"github.com/robotalks/sbclink/pkg/sbc/transport"
)

func init() {
	env.SetupFlags()
}

func main() {
	flag.Parse()
	defer glog.Flush()

	conf := env.NewConfig().MustPrepare()
	runner := fx.NewRunner().HandleSignals()

	conn, err := conf.Dial(runner.Context)
	if err != nil {
		log.Fatalln(err)
	}
	link := conf.NewLink(conn, transport.RoleHost)
	host := dispatch.NewHost(link)
	link.Handler, link.Notifier = host, host

	if conf.MQTTBrokerURL != "" {
		bridge, err := mqtt.NewBridgeFromURL(conf.MQTTBrokerURL, conf.ID, host)
		if err != nil {
			log.Fatalln(err)
		}
		host.Handler, host.Notifier = bridge, bridge
		runner.Go(bridge)
	} else {
		host.Handler = dispatch.HandleFirmwareMessageFunc(func(_ context.Context, msg msgs.FirmwareMessage) {
			glog.Infof("firmware: %s %+v", msg.FirmwareRequest(), msg)
		})
	}

	runner.Go(fx.NamedRun("link", fx.RunnableFunc(func(ctx context.Context) error {
		return fx.RunWithContextCloser(ctx, conn, func() error {
			return link.Run(ctx)
		})
	})))
	if err := runner.Wait(); err != nil {
		log.Fatalln(err)
	}
}
