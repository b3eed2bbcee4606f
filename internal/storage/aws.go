package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ignite/contact-import/internal/config"
)

const historyPK = "IMPORT_COMMIT"

type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type dynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
}

// AWSStorage archives uploads in S3 and keeps history in DynamoDB.
type AWSStorage struct {
	s3        s3API
	dynamoDB  dynamoAPI
	bucket    string
	tableName string
}

// historyItem is the DynamoDB layout: one partition, sorted by commit time.
type historyItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	CommitRecord
}

// NewAWSStorage loads AWS config from the default chain, a named profile, or
// static keys when cfg carries them.
func NewAWSStorage(ctx context.Context, cfg config.StorageConfig) (*AWSStorage, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.AWSRegion)}
	if profile := cfg.GetAWSProfile(); profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	dynamoClient := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return &AWSStorage{s3: s3Client, dynamoDB: dynamoClient, bucket: cfg.S3Bucket, tableName: cfg.DynamoDBTable}, nil
}

// PutUpload stores data in the bucket.
func (s *AWSStorage) PutUpload(ctx context.Context, sessionID, fileName string, data []byte) (string, error) {
	key := uploadKey(sessionID, fileName, time.Now())
	_, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType(fileName)),
	})
	if err != nil {
		return "", fmt.Errorf("uploading to S3: %w", err)
	}
	return key, nil
}

// RecordCommit writes rec to the history table.
func (s *AWSStorage) RecordCommit(ctx context.Context, rec CommitRecord) error {
	av, err := attributevalue.MarshalMap(historyItem{
		PK:           historyPK,
		SK:           rec.CommittedAt.UTC().Format(time.RFC3339Nano) + "#" + rec.ID,
		CommitRecord: rec,
	})
	if err != nil {
		return fmt.Errorf("marshaling commit record: %w", err)
	}

	_, err = s.dynamoDB.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("saving commit record to DynamoDB: %w", err)
	}
	return nil
}

// RecentCommits queries the newest records first.
func (s *AWSStorage) RecentCommits(ctx context.Context, limit int) ([]CommitRecord, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(s.tableName),
		KeyConditionExpression: aws.String("PK = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: historyPK},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}

	result, err := s.dynamoDB.Query(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("querying commit history: %w", err)
	}

	records := make([]CommitRecord, 0, len(result.Items))
	for _, item := range result.Items {
		var it historyItem
		if err := attributevalue.UnmarshalMap(item, &it); err != nil {
			continue
		}
		records = append(records, it.CommitRecord)
	}
	return records, nil
}

func contentType(fileName string) string {
	switch {
	case hasExt(fileName, ".csv"):
		return "text/csv"
	case hasExt(fileName, ".xls"):
		return "application/vnd.ms-excel"
	default:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
}
