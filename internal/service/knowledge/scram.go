package knowledge

import "github.com/xdg-go/scram"

// scramClient adapts xdg-go/scram to sarama.SCRAMClient.
type scramClient struct {
	client        *scram.Client
	conversation  *scram.ClientConversation
	hashGenerator scram.HashGeneratorFcn
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.hashGenerator.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.client = client
	c.conversation = client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.conversation.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.conversation.Done()
}
