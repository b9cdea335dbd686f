package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/spadeshq/accounts/internal/common"
	sc "github.com/spadeshq/accounts/internal/server/config"
	"github.com/spadeshq/accounts/internal/server/repositories/repomanager"
)

// presignValidity caps how long a generated upload/download URL works.
const presignValidity = 15 * time.Minute

// Seams for testing the S3 wiring without a live backend.
var (
	loadDefaultAWSConfig = awsconfig.LoadDefaultConfig

	newS3ClientFromConfig = func(cfg aws.Config, optFns ...func(*s3.Options)) *s3.Client {
		return s3.NewFromConfig(cfg, optFns...)
	}

	newS3PresignClient = func(c *s3.Client) *s3.PresignClient {
		return s3.NewPresignClient(c)
	}

	presignPutObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignPutObject(ctx, in, optFns...)
	}
	presignGetObject = func(pc *s3.PresignClient, ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
		return pc.PresignGetObject(ctx, in, optFns...)
	}
)

// PictureService hands out presigned S3 URLs for profile pictures. The
// picture bytes never pass through this server: clients upload and fetch
// directly against object storage, and the users table only stores the
// object key (the profile_picture reference).
type PictureService struct {
	db     *sql.DB
	repos  repomanager.RepositoryManager
	config *sc.Config
}

func NewPictureService(db *sql.DB, m repomanager.RepositoryManager, cfg *sc.Config) *PictureService {
	return &PictureService{db: db, repos: m, config: cfg}
}

func pictureStorageKey(userID int64) string {
	return fmt.Sprintf("avatars/%d/%v", userID, uuid.New())
}

func (s *PictureService) getPresignClient() (*s3.PresignClient, error) {
	cfg, err := loadDefaultAWSConfig(context.Background(),
		awsconfig.WithRegion(s.config.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			s.config.S3RootUser,
			s.config.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, err
	}

	client := newS3ClientFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(s.config.S3BaseEndpoint)
	})

	return newS3PresignClient(client), nil
}

// UploadURL returns a fresh storage key for userID's picture and a
// presigned PUT URL for it. The caller is expected to PATCH the returned
// key into profile_picture once the upload succeeds. Fails NotFound when
// the user does not exist.
func (s *PictureService) UploadURL(ctx context.Context, userID int64) (string, string, error) {
	if _, err := s.repos.Users(s.db).FindByID(ctx, userID); err != nil {
		return "", "", err
	}

	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", "", err
	}

	key := pictureStorageKey(userID)
	req, err := presignPutObject(presignClient, ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.config.S3Bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(presignValidity))
	if err != nil {
		return "", "", err
	}

	return key, req.URL, nil
}

// DownloadURL returns a presigned GET URL for userID's stored picture.
// Fails NotFound when the user does not exist or has no picture set.
func (s *PictureService) DownloadURL(ctx context.Context, userID int64) (string, error) {
	user, err := s.repos.Users(s.db).FindByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.ProfilePicture == nil || *user.ProfilePicture == "" {
		return "", common.ErrorNotFound
	}

	presignClient, err := s.getPresignClient()
	if err != nil {
		return "", err
	}

	req, err := presignGetObject(presignClient, ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.S3Bucket),
		Key:    aws.String(*user.ProfilePicture),
	}, s3.WithPresignExpires(presignValidity))
	if err != nil {
		return "", err
	}

	return req.URL, nil
}
