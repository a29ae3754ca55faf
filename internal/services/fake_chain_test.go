package services

import "defeatthememe-backend/internal/clients/chaintest"

var (
	testForwarder = chaintest.Forwarder
	testEngine    = chaintest.GameEngine
	testPlanetNFT = chaintest.PlanetNFT
)

func newFakeChain(chainID int64) *chaintest.Chain { return chaintest.New(chainID) }
