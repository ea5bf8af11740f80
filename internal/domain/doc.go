// Package domain contains the improvement task entity, its enumerations and
// lifecycle rules. It is independent of any storage engine or delivery
// mechanism: persistence lives behind the store package and HTTP in api.
package domain
