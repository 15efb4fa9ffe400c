package projcal

import (
	"context"
	"fmt"

	"go.viam.com/rdk/cli"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/robot"
	"go.viam.com/rdk/robot/client"
	"go.viam.com/rdk/robot/framesystem"
	"go.viam.com/utils/rpc"
)

// MachineToDependencies exposes every resource of a remote machine as dependencies,
// so a service can be constructed locally against real hardware.
func MachineToDependencies(machine robot.Robot) (resource.Dependencies, error) {
	deps := resource.Dependencies{}

	for _, n := range machine.ResourceNames() {
		r, err := machine.ResourceByName(n)
		if err != nil {
			return nil, err
		}
		deps[n] = r
	}

	r, ok := machine.(resource.Resource)
	if !ok {
		return nil, fmt.Errorf("machine isn't a resource.Resource")
	}
	deps[framesystem.PublicServiceName] = r

	return deps, nil
}

func ConnectToMachine(ctx context.Context, logger logging.Logger, host, apiKeyID, apiKey string) (robot.Robot, error) {
	return client.New(
		ctx,
		host,
		logger,
		client.WithDialOptions(rpc.WithEntityCredentials(
			apiKeyID,
			rpc.Credentials{
				Type:    rpc.CredentialsTypeAPIKey,
				Payload: apiKey,
			},
		)),
	)
}

// ConnectToHostFromCLIToken logs in with the token from "viam login".
func ConnectToHostFromCLIToken(ctx context.Context, host string, logger logging.Logger) (robot.Robot, error) {
	if host == "" {
		return nil, fmt.Errorf("need to specify host")
	}

	c, err := cli.ConfigFromCache(nil)
	if err != nil {
		return nil, err
	}

	dopts, err := c.DialOptions()
	if err != nil {
		return nil, err
	}

	return client.New(ctx, host, logger, client.WithDialOptions(dopts...))
}
