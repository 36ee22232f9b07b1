package ingest

import "github.com/alanyoungcy/wagerwatch/internal/domain"

// Roster is the fixed tournament roster. Ids match the contract's team
// indexes.
var Roster = []domain.Team{
	{ID: 0, Name: "Russia"},
	{ID: 1, Name: "Saudi Arabia"},
	{ID: 2, Name: "Egypt"},
	{ID: 3, Name: "Uruguay"},
	{ID: 4, Name: "Morocco"},
	{ID: 5, Name: "Iran"},
	{ID: 6, Name: "Portugal"},
	{ID: 7, Name: "Spain"},
	{ID: 8, Name: "France"},
	{ID: 9, Name: "Australia"},
	{ID: 10, Name: "Argentina"},
	{ID: 11, Name: "Iceland"},
	{ID: 12, Name: "Peru"},
	{ID: 13, Name: "Denmark"},
	{ID: 14, Name: "Croatia"},
	{ID: 15, Name: "Nigeria"},
	{ID: 16, Name: "Costa Rica"},
	{ID: 17, Name: "Serbia"},
	{ID: 18, Name: "Germany"},
	{ID: 19, Name: "Mexico"},
	{ID: 20, Name: "Brazil"},
	{ID: 21, Name: "Switzerland"},
	{ID: 22, Name: "Sweden"},
	{ID: 23, Name: "South Korea"},
	{ID: 24, Name: "Belgium"},
	{ID: 25, Name: "Panama"},
	{ID: 26, Name: "Tunisia"},
	{ID: 27, Name: "England"},
	{ID: 28, Name: "Poland"},
	{ID: 29, Name: "Senegal"},
	{ID: 30, Name: "Colombia"},
	{ID: 31, Name: "Japan"},
}
