package client

import (
	"context"
	"encoding/base64"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"go.uber.org/zap"

	"verify-service/internal/config"
	"verify-service/internal/util"
)

// KMSClient wraps the AWS KMS client used to unwrap the vault's data key
// at startup.
type KMSClient struct {
	Client *kms.Client
	config *config.KMSConfig
}

func NewKMSClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*KMSClient, error) {
	kmsConfig := cfg.KMS

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(kmsConfig.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	util.Info("KMS client initialized",
		zap.String("region", kmsConfig.Region),
		zap.String("key_id", kmsConfig.KeyID),
	)

	return &KMSClient{
		Client: kms.NewFromConfig(awsCfg),
		config: &kmsConfig,
	}, nil
}

// DecryptDataKey unwraps the base64 KMS-encrypted vault key from config.
func (k *KMSClient) DecryptDataKey(ctx context.Context) ([]byte, error) {
	blob, err := base64.StdEncoding.DecodeString(k.config.EncryptedDataKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encrypted data key encoding: %w", err)
	}

	out, err := k.Client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: blob,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt data key: %w", err)
	}

	return out.Plaintext, nil
}
