package notification

//go:generate mockgen -destination=mocks/mock_sender.go -package=mocks github.com/smallbiznis/lifecycle/internal/notification Sender
