/*
Package socketmode receives Slack events, interactions and slash commands over Socket Mode.

A Client holds one or more connections for an app. Each connection asks the platform for a
relay url with the app-level token, dials it, and reconnects by itself whenever the relay
drops it. Handlers registered on the client's Router see every envelope exactly once per
delivery, and the client acknowledges each envelope on the connection it arrived on.

	client, err := socketmode.New(log, os.Getenv("SLACK_APP_TOKEN"), socketmode.WithConnections(2))
	if err != nil {
		return err
	}

	client.Router().OnEvent("app_mention", func(ctx context.Context, event *socketmessage.EventsApiPayload) error {
		log.Infof("mentioned in %s", event.TeamId)
		return nil
	})

	return client.Run(ctx)

Run may only be called once per Client.
*/
package socketmode
