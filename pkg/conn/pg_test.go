package conn

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	testCases := []struct {
		desc string
		opt  Option
		want string
	}{
		{
			desc: "defaults",
			opt:  Option{},
			want: "host=localhost port=5432 sslmode=disable",
		},
		{
			desc: "full",
			opt: Option{
				Host:     "db",
				Port:     6543,
				User:     "trader",
				Password: "secret",
				Database: "candles",
				SSLMode:  "require",
			},
			want: "host=db port=6543 sslmode=require user=trader password=secret dbname=candles",
		},
		{
			desc: "quoted password",
			opt:  Option{User: "trader", Password: `it's a \secret`, Database: "candles"},
			want: `host=localhost port=5432 sslmode=disable user=trader password='it\'s a \\secret' dbname=candles`,
		},
		{
			desc: "conn string wins",
			opt:  Option{Host: "db", ConnString: "postgres://other/x"},
			want: "postgres://other/x",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.opt.DSN())
		})
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	assert.Nil(t, c.DB())
	assert.NoError(t, c.Close())
	assert.Error(t, c.Ping(context.Background()))
}
