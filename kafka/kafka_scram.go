package kafka

import (
	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"

	"github.com/AkashInfoDev/helpdesk-back-end/config"
)

// NewSaramaConfigWithSCRAM is NewSaramaConfig with SCRAM-SHA-256/512 SASL
// instead of PLAIN, for brokers that require it.
func NewSaramaConfigWithSCRAM(cfg *config.KafkaConfig, mechanism string) (*sarama.Config, error) {
	saramaConfig, err := NewSaramaConfig(cfg)
	if err != nil {
		return nil, err
	}

	saramaConfig.Net.SASL.Enable = true
	saramaConfig.Net.SASL.User = cfg.Username
	saramaConfig.Net.SASL.Password = cfg.Password
	saramaConfig.Net.SASL.Handshake = true

	switch mechanism {
	case "SCRAM-SHA-256":
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{HashGeneratorFcn: SHA256}
		}
	case "SCRAM-SHA-512":
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		saramaConfig.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &XDGSCRAMClient{HashGeneratorFcn: SHA512}
		}
	default:
		saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	}

	return saramaConfig, nil
}

var (
	SHA256 scram.HashGeneratorFcn = scram.SHA256
	SHA512 scram.HashGeneratorFcn = scram.SHA512
)

type XDGSCRAMClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (x *XDGSCRAMClient) Begin(userName, password, authzID string) (err error) {
	x.Client, err = x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

func (x *XDGSCRAMClient) Step(challenge string) (response string, err error) {
	response, err = x.ClientConversation.Step(challenge)
	return
}

func (x *XDGSCRAMClient) Done() bool {
	return x.ClientConversation.Done()
}
