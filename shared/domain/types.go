package domain

type (
	Email    = string
	Password = string
	Username = string
	UserId   = int64
	TokenId  = string
	IP       = string
)
