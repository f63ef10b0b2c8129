package sms

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"
)

// SNSAPI is the part of the SNS client SNSTransport uses.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSTransport publishes transactional SMS directly to phone numbers.
type SNSTransport struct {
	api SNSAPI
}

func NewSNSTransport(ctx context.Context, region, endpoint string) (*SNSTransport, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for SNS: %w", err)
	}
	client := sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewSNSTransportWithAPI(client), nil
}

func NewSNSTransportWithAPI(api SNSAPI) *SNSTransport {
	return &SNSTransport{api: api}
}

// SendSMS maps provider API errors onto a non-zero status; only transport
// failures come back as an error.
func (t *SNSTransport) SendSMS(ctx context.Context, senderID, phoneNumber, text string) (Result, error) {
	out, err := t.api.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(phoneNumber),
		Message:     aws.String(text),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {DataType: aws.String("String"), StringValue: aws.String(senderID)},
			"AWS.SNS.SMS.SMSType":  {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
		},
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			status := "500"
			if apiErr.ErrorFault() == smithy.FaultClient {
				status = "400"
			}
			return Result{Status: status, ErrorText: apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()}, nil
		}
		return Result{}, err
	}

	return Result{Status: "0", MessageID: aws.ToString(out.MessageId)}, nil
}
